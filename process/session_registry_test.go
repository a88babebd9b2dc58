package process_test

import (
	"errors"

	. "github.com/PelionIoT/pvrendezvous/process"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type fakeSession struct {
	name   string
	closed int
	err    error
}

func (session *fakeSession) Close() error {
	session.closed++

	return session.err
}

var _ = Describe("SessionRegistry", func() {
	var registry *SessionRegistry

	BeforeEach(func() {
		registry = NewSessionRegistry()
	})

	Describe("#Register", func() {
		Specify("Should assign ids starting at 1 that are never reused", func() {
			a := &fakeSession{name: "a"}
			b := &fakeSession{name: "b"}
			c := &fakeSession{name: "c"}

			Expect(registry.Register(a)).Should(Equal(SessionID(1)))
			Expect(registry.Register(b)).Should(Equal(SessionID(2)))
			Expect(registry.Unregister(SessionID(2))).Should(BeTrue())
			Expect(registry.Register(c)).Should(Equal(SessionID(3)))
			Expect(registry.Count()).Should(Equal(2))
		})

		Specify("Should return the existing id when a session is registered twice", func() {
			a := &fakeSession{}

			id := registry.Register(a)

			Expect(registry.Register(a)).Should(Equal(id))
			Expect(registry.Count()).Should(Equal(1))
		})

		Specify("Should notify created listeners with the new id", func() {
			var created []SessionID

			registry.OnSessionCreated(func(id SessionID) {
				created = append(created, id)
			})

			registry.Register(&fakeSession{})
			registry.Register(&fakeSession{})

			Expect(created).Should(Equal([]SessionID{1, 2}))
		})
	})

	Describe("#Unregister", func() {
		Specify("Should return false for an unknown id without notifying listeners", func() {
			closedCount := 0

			registry.OnSessionClosed(func(id SessionID) {
				closedCount++
			})

			Expect(registry.Unregister(SessionID(42))).Should(BeFalse())
			Expect(closedCount).Should(Equal(0))
		})

		Specify("Should be harmless when called twice", func() {
			a := &fakeSession{}
			id := registry.Register(a)

			Expect(registry.Unregister(id)).Should(BeTrue())
			Expect(registry.Unregister(id)).Should(BeFalse())
			Expect(registry.UnregisterSession(a)).Should(BeFalse())
			Expect(registry.Lookup(id)).Should(BeNil())
			Expect(registry.LookupID(a)).Should(Equal(InvalidSessionID))
		})
	})

	Describe("#Lookup", func() {
		Specify("Should map ids to sessions and back", func() {
			a := &fakeSession{}
			b := &fakeSession{}
			idA := registry.Register(a)
			idB := registry.Register(b)

			Expect(registry.Lookup(idA)).Should(BeIdenticalTo(a))
			Expect(registry.Lookup(idB)).Should(BeIdenticalTo(b))
			Expect(registry.LookupID(b)).Should(Equal(idB))
			Expect(registry.Lookup(InvalidSessionID)).Should(BeNil())
		})
	})

	Describe("Active session stack", func() {
		var a, b *fakeSession

		BeforeEach(func() {
			a = &fakeSession{name: "a"}
			b = &fakeSession{name: "b"}
			registry.Register(a)
			registry.Register(b)
			registry.SetAbortHandler(func(message string) {
				panic(message)
			})
		})

		Specify("GetActive should return the top of the stack", func() {
			var outer, inner Session
			var depth int

			Expect(registry.GetActive()).Should(BeNil())

			registry.WithActiveSession(a, func() {
				registry.WithActiveSession(b, func() {
					inner = registry.GetActive()
					depth = registry.ActiveDepth()
				})

				outer = registry.GetActive()
			})

			Expect(inner).Should(BeIdenticalTo(b))
			Expect(depth).Should(Equal(2))
			Expect(outer).Should(BeIdenticalTo(a))
			Expect(registry.GetActive()).Should(BeNil())
		})

		Specify("A session finishing while a later one is still active should abort", func() {
			outerActive := make(chan struct{})
			innerActive := make(chan struct{})
			release := make(chan struct{})
			aborted := make(chan interface{}, 1)

			go func() {
				defer func() {
					aborted <- recover()
				}()

				registry.WithActiveSession(a, func() {
					close(outerActive)
					<-innerActive
				})
			}()

			go func() {
				<-outerActive

				registry.WithActiveSession(b, func() {
					close(innerActive)
					<-release
				})
			}()

			Eventually(aborted).Should(Receive(ContainSubstring("Active session stack is corrupt")))

			close(release)

			Eventually(registry.GetActive).Should(BeIdenticalTo(a))
			Expect(registry.ActiveDepth()).Should(Equal(1))
		})

		Specify("WithActiveSession should pop the session even if fn panics", func() {
			Expect(func() {
				registry.WithActiveSession(a, func() {
					Expect(registry.GetActive()).Should(BeIdenticalTo(a))

					panic("boom")
				})
			}).Should(Panic())

			Expect(registry.ActiveDepth()).Should(Equal(0))
		})

		Specify("GetCurrent should prefer the active session and fall back to the first registered one", func() {
			Expect(registry.GetCurrent()).Should(BeIdenticalTo(a))

			var current Session

			registry.WithActiveSession(b, func() {
				current = registry.GetCurrent()
			})

			Expect(current).Should(BeIdenticalTo(b))

			registry.Unregister(registry.LookupID(a))

			Expect(registry.GetCurrent()).Should(BeIdenticalTo(b))

			registry.Unregister(registry.LookupID(b))

			Expect(registry.GetCurrent()).Should(BeNil())
		})
	})

	Describe("#Clear", func() {
		Specify("Should unregister and close every session", func() {
			a := &fakeSession{}
			b := &fakeSession{err: errors.New("close failed")}
			registry.Register(a)
			registry.Register(b)

			registry.Clear()

			Expect(registry.Count()).Should(Equal(0))
			Expect(a.closed).Should(Equal(1))
			Expect(b.closed).Should(Equal(1))
			Expect(registry.Sessions()).Should(BeEmpty())
		})
	})
})

package process

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type stackSession struct {
	name string
}

func (session *stackSession) Close() error {
	return nil
}

var _ = Describe("active session stack", func() {
	var registry *SessionRegistry
	var a, b *stackSession

	BeforeEach(func() {
		registry = NewSessionRegistry()
		a = &stackSession{name: "a"}
		b = &stackSession{name: "b"}
		registry.Register(a)
		registry.Register(b)
		registry.SetAbortHandler(func(message string) {
			panic(message)
		})
	})

	Specify("popActive should abort when the session is not on top", func() {
		registry.pushActive(a)
		registry.pushActive(b)

		Expect(func() { registry.popActive(a) }).Should(Panic())
		Expect(registry.ActiveDepth()).Should(Equal(2))
	})

	Specify("popActive should abort on an empty stack", func() {
		Expect(func() { registry.popActive(a) }).Should(Panic())
	})
})

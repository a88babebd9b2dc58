package process_test

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/PelionIoT/pvrendezvous/process"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("ProcessModule", func() {
	Describe("ParseRole", func() {
		Specify("Should accept every valid role name", func() {
			for _, role := range []Role{RoleClient, RoleServer, RoleDataServer, RoleRenderServer, RoleBatch} {
				parsed, err := ParseRole(role.String())

				Expect(err).Should(BeNil())
				Expect(parsed).Should(Equal(role))
			}
		})

		Specify("Should reject unknown and invalid roles", func() {
			_, err := ParseRole("invalid")

			Expect(err).Should(Not(BeNil()))

			_, err = ParseRole("database")

			Expect(err).Should(Not(BeNil()))
		})
	})

	Describe("Initialize", func() {
		AfterEach(func() {
			if current := Current(); current != nil {
				current.Finalize()
			}
		})

		Specify("Should install a process wide instance exactly once", func() {
			Expect(Current()).Should(BeNil())

			processModule, err := Initialize(RoleServer, nil, nil)

			Expect(err).Should(BeNil())
			Expect(Current()).Should(BeIdenticalTo(processModule))

			_, err = Initialize(RoleClient, nil, nil)

			Expect(err).Should(Equal(EAlreadyInitialized))
			Expect(Current().Role()).Should(Equal(RoleServer))
		})

		Specify("Finalize should clear the instance and be idempotent", func() {
			processModule, _ := Initialize(RoleServer, nil, nil)
			finalized := 0

			processModule.OnFinalize(func() {
				finalized++
			})

			Expect(processModule.Finalize()).Should(BeNil())
			Expect(processModule.Finalize()).Should(BeNil())
			Expect(finalized).Should(Equal(1))
			Expect(Current()).Should(BeNil())
			Expect(processModule.Controller()).Should(BeNil())
		})

		Specify("Should reject the invalid role", func() {
			_, err := Initialize(RoleInvalid, nil, nil)

			Expect(err).Should(Equal(EInvalidRole))
			Expect(Current()).Should(BeNil())
		})
	})

	Describe("#Finalize", func() {
		Specify("Should close every registered session before notifying listeners", func() {
			processModule, err := NewProcessModule(RoleServer, nil, nil)

			Expect(err).Should(BeNil())

			session := &fakeSession{}
			processModule.Sessions().Register(session)

			var sessionsAtTeardown int = -1

			processModule.OnFinalize(func() {
				sessionsAtTeardown = processModule.Sessions().Count()
			})

			processModule.Finalize()

			Expect(session.closed).Should(Equal(1))
			Expect(sessionsAtTeardown).Should(Equal(0))
		})

		Specify("Should only finalize a runtime it started", func() {
			group := NewProcessGroup(1)
			runtime := NewGroupRuntime(group, 0)

			Expect(runtime.Initialize()).Should(BeNil())

			processModule, err := NewProcessModule(RoleServer, nil, runtime)

			Expect(err).Should(BeNil())

			processModule.Finalize()

			Expect(runtime.IsInitialized()).Should(BeTrue())

			runtime = NewGroupRuntime(group, 0)
			processModule, err = NewProcessModule(RoleServer, nil, runtime)

			Expect(err).Should(BeNil())
			Expect(runtime.IsInitialized()).Should(BeTrue())

			processModule.Finalize()

			Expect(runtime.IsInitialized()).Should(BeFalse())
		})
	})

	Describe("NewProcessModule", func() {
		var workingDirectory string
		var runtimeDirectory string

		BeforeEach(func() {
			var err error

			workingDirectory, err = os.Getwd()

			Expect(err).Should(BeNil())

			runtimeDirectory, err = os.MkdirTemp("", "pvrendezvous-runtime")

			Expect(err).Should(BeNil())
		})

		AfterEach(func() {
			os.Chdir(workingDirectory)
			os.RemoveAll(runtimeDirectory)
		})

		Specify("Should restore the working directory after the runtime starts", func() {
			runtime := &chdirRuntime{
				GroupRuntime: NewGroupRuntime(NewProcessGroup(1), 0),
				directory:    runtimeDirectory,
			}

			processModule, err := NewProcessModule(RoleServer, nil, runtime)

			Expect(err).Should(BeNil())
			Expect(runtime.changed).Should(BeTrue())
			Expect(runtime.IsInitialized()).Should(BeTrue())

			wd, err := os.Getwd()

			Expect(err).Should(BeNil())
			Expect(filepath.Clean(wd)).Should(Equal(filepath.Clean(workingDirectory)))

			processModule.Finalize()
		})
	})

	Describe("#UpdateRole", func() {
		Specify("Should change the role", func() {
			processModule, _ := NewProcessModule(RoleServer, nil, nil)

			processModule.UpdateRole(RoleBatch)

			Expect(processModule.Role()).Should(Equal(RoleBatch))
		})
	})

	Describe("#SymmetricBatch", func() {
		Specify("Should only be true for batch processes with symmetric MPI", func() {
			processModule, _ := NewProcessModule(RoleBatch, &Options{SymmetricMPI: true}, nil)

			Expect(processModule.SymmetricBatch()).Should(BeTrue())

			processModule, _ = NewProcessModule(RoleServer, &Options{SymmetricMPI: true}, nil)

			Expect(processModule.SymmetricBatch()).Should(BeFalse())
		})
	})
})

var _ = Describe("ProcessGroup", func() {
	Specify("AllGather should return every rank's contribution in rank order", func() {
		group := NewProcessGroup(3)
		results := make([][][]byte, 3)

		var wg sync.WaitGroup

		for rank := 0; rank < 3; rank++ {
			wg.Add(1)

			go func(rank int) {
				defer GinkgoRecover()
				defer wg.Done()

				controller := group.Controller(rank)

				for round := 0; round < 5; round++ {
					gathered, err := controller.AllGather([]byte{byte(rank), byte(round)})

					Expect(err).Should(BeNil())

					results[rank] = gathered
				}
			}(rank)
		}

		wg.Wait()

		for rank := 0; rank < 3; rank++ {
			Expect(results[rank]).Should(Equal([][]byte{{0, 4}, {1, 4}, {2, 4}}))
		}
	})

	Specify("Broadcast should deliver the root's data to every rank", func() {
		group := NewProcessGroup(4)
		received := make([][]byte, 4)

		var wg sync.WaitGroup

		for rank := 0; rank < 4; rank++ {
			wg.Add(1)

			go func(rank int) {
				defer GinkgoRecover()
				defer wg.Done()

				var data []byte

				if rank == 2 {
					data = []byte("hello")
				}

				received[rank], _ = group.Controller(rank).Broadcast(data, 2)
			}(rank)
		}

		wg.Wait()

		for rank := 0; rank < 4; rank++ {
			Expect(received[rank]).Should(Equal([]byte("hello")))
		}
	})

	Specify("Abort should release ranks blocked in a collective", func() {
		group := NewProcessGroup(2)
		done := make(chan error, 1)

		go func() {
			_, err := group.Controller(0).AllGather([]byte{0})
			done <- err
		}()

		Consistently(done, time.Millisecond*100).ShouldNot(Receive())

		group.Abort()

		Eventually(done, time.Second).Should(Receive(Equal(EGroupAborted)))

		_, err := group.Controller(1).Broadcast([]byte{1}, 1)

		Expect(err).Should(Equal(EGroupAborted))
		Expect(group.Controller(1).Barrier()).Should(Equal(EGroupAborted))
	})

	Specify("Broadcast should reject a root outside the group", func() {
		_, err := NewProcessGroup(1).Controller(0).Broadcast(nil, 3)

		Expect(err).Should(Equal(EInvalidRoot))
	})

	Specify("Controller should panic for a rank outside the group", func() {
		Expect(func() { NewProcessGroup(2).Controller(2) }).Should(Panic())
	})
})

// chdirRuntime moves the process into another directory while starting,
// the way some MPI launchers do
type chdirRuntime struct {
	*GroupRuntime
	directory string
	changed   bool
}

func (runtime *chdirRuntime) Initialize() error {
	if err := os.Chdir(runtime.directory); err != nil {
		return err
	}

	runtime.changed = true

	return runtime.GroupRuntime.Initialize()
}

package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

const (
	hookRunningMessageConstant    = "running shutdown hook"
	hookPanickedMessageConstant   = "shutdown hook panicked"
	signalReceivedMessageConstant = "received shutdown signal"
	hookNameFieldConstant         = "hook"
	signalFieldConstant           = "signal"
	panicFieldConstant            = "panic"
)

// Registration identifies a registered hook.
type Registration interface {
	// Cancel removes the hook. Cancelling more than once is a no-op.
	Cancel()
}

// Registry accepts hooks to run at host shutdown.
type Registry interface {
	Register(name string, hook func()) Registration
}

type registeredHook struct {
	sequence uint64
	name     string
	hook     func()
}

// HookRegistry is a concurrency-safe Registry whose hooks run when Run is called.
type HookRegistry struct {
	mutex        sync.Mutex
	hooks        map[uint64]registeredHook
	nextSequence uint64
	logger       *zap.Logger
}

// NewHookRegistry creates an empty registry.
func NewHookRegistry(logger *zap.Logger) *HookRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HookRegistry{hooks: map[uint64]registeredHook{}, logger: logger}
}

var defaultRegistry = NewHookRegistry(nil)

// Default returns the process-wide registry.
func Default() *HookRegistry {
	return defaultRegistry
}

// Register adds hook under name and returns its registration.
func (registry *HookRegistry) Register(name string, hook func()) Registration {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	registry.nextSequence++
	sequence := registry.nextSequence
	registry.hooks[sequence] = registeredHook{sequence: sequence, name: name, hook: hook}
	return &hookRegistration{registry: registry, sequence: sequence}
}

// Len reports the number of live hooks.
func (registry *HookRegistry) Len() int {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	return len(registry.hooks)
}

// Run removes every live hook and invokes it once, in registration order.
// A panicking hook is logged and does not prevent the remaining hooks from running.
func (registry *HookRegistry) Run() {
	registry.mutex.Lock()
	pendingHooks := make([]registeredHook, 0, len(registry.hooks))
	for _, hook := range registry.hooks {
		pendingHooks = append(pendingHooks, hook)
	}
	registry.hooks = map[uint64]registeredHook{}
	registry.mutex.Unlock()

	sort.Slice(pendingHooks, func(leftIndex int, rightIndex int) bool {
		return pendingHooks[leftIndex].sequence < pendingHooks[rightIndex].sequence
	})
	for _, pendingHook := range pendingHooks {
		registry.invoke(pendingHook)
	}
}

func (registry *HookRegistry) invoke(pendingHook registeredHook) {
	defer func() {
		if recovered := recover(); recovered != nil {
			registry.logger.Error(hookPanickedMessageConstant, zap.String(hookNameFieldConstant, pendingHook.name), zap.Any(panicFieldConstant, recovered))
		}
	}()
	registry.logger.Debug(hookRunningMessageConstant, zap.String(hookNameFieldConstant, pendingHook.name))
	if pendingHook.hook != nil {
		pendingHook.hook()
	}
}

func (registry *HookRegistry) remove(sequence uint64) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	delete(registry.hooks, sequence)
}

type hookRegistration struct {
	registry *HookRegistry
	sequence uint64
	once     sync.Once
}

func (registration *hookRegistration) Cancel() {
	registration.once.Do(func() {
		registration.registry.remove(registration.sequence)
	})
}

// NotifyOnSignals runs the registry hooks when the host receives one of signals
// (SIGINT and SIGTERM when none are given). The returned function stops listening.
func NotifyOnSignals(executionContext context.Context, registry *HookRegistry, signals ...os.Signal) func() {
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, signals...)

	stopChannel := make(chan struct{})
	var stopOnce sync.Once
	go func() {
		for {
			select {
			case <-executionContext.Done():
				return
			case <-stopChannel:
				return
			case receivedSignal := <-signalChannel:
				registry.logger.Info(signalReceivedMessageConstant, zap.Stringer(signalFieldConstant, receivedSignal))
				registry.Run()
			}
		}
	}()

	return func() {
		stopOnce.Do(func() {
			signal.Stop(signalChannel)
			close(stopChannel)
		})
	}
}

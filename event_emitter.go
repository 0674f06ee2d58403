package callsdk

import (
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"

	"github.com/go-logr/logr"
)

// IEventEmitter defines an interface of the Event-based architecture(like EventEmitter in JavaScript).
type IEventEmitter interface {
	// On adds the listener function to the end of the listeners array for the event named eventName.
	// Listener arguments are matched by position; missing arguments are passed as zero values
	// and extra arguments are dropped.
	On(eventName string, listener interface{})

	// Once adds a one-time listener function for the event named eventName.
	// The next time eventName is triggered, this listener is removed and then invoked.
	Once(eventName string, listener interface{})

	// Emit calls each of the listeners registered for the event named eventName,
	// in the order they were registered, passing the supplied arguments to each.
	// Returns true if the event had listeners, false otherwise.
	Emit(eventName string, argv ...interface{}) bool

	// SafeEmit calls each of the listeners registered for the event named eventName. It recovers
	// panic and logs panic info with provided logger.
	SafeEmit(eventName string, argv ...interface{}) bool

	// Off removes the specified listener from the listener array for the event named eventName.
	Off(eventName string, listener interface{})

	// RemoveAllListeners removes all listeners, or those of the specified eventNames.
	RemoveAllListeners(eventNames ...string)

	// ListenerCount returns the number of listeners registered for eventName.
	ListenerCount(eventName string) int
}

type EventEmitter struct {
	mu        sync.Mutex
	listeners map[string][]*eventListener
	logger    logr.Logger
}

func NewEventEmitter() IEventEmitter {
	return &EventEmitter{
		logger: NewLogger("EventEmitter"),
	}
}

func (e *EventEmitter) On(event string, listener interface{}) {
	e.addListener(event, listener, false)
}

func (e *EventEmitter) Once(event string, listener interface{}) {
	e.addListener(event, listener, true)
}

func (e *EventEmitter) addListener(event string, listener interface{}, once bool) {
	if err := isValidListener(listener); err != nil {
		panic(err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.listeners == nil {
		e.listeners = make(map[string][]*eventListener)
	}
	e.listeners[event] = append(e.listeners[event], newEventListener(listener, once))
}

func (e *EventEmitter) Emit(event string, args ...interface{}) bool {
	e.mu.Lock()
	listeners := make([]*eventListener, len(e.listeners[event]))
	copy(listeners, e.listeners[event])
	e.mu.Unlock()

	for _, listener := range listeners {
		if listener.once != nil {
			e.removeListener(event, listener)
		}
		// may panic
		listener.Call(args...)
	}
	return len(listeners) > 0
}

func (e *EventEmitter) SafeEmit(event string, args ...interface{}) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger := e.logger
			if logger.GetSink() == nil {
				logger = NewLogger("EventEmitter")
			}
			logger.Error(fmt.Errorf("%v", r), "emit panic", "event", event, "stack", string(debug.Stack()))
		}
	}()

	return e.Emit(event, args...)
}

func (e *EventEmitter) Off(event string, listener interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()

	handlerPtr := reflect.ValueOf(listener).Pointer()
	listeners := e.listeners[event]

	for i, l := range listeners {
		if l.value.Pointer() == handlerPtr {
			e.listeners[event] = append(listeners[:i:i], listeners[i+1:]...)
			break
		}
	}
}

func (e *EventEmitter) removeListener(event string, target *eventListener) {
	e.mu.Lock()
	defer e.mu.Unlock()

	listeners := e.listeners[event]

	for i, l := range listeners {
		if l == target {
			e.listeners[event] = append(listeners[:i:i], listeners[i+1:]...)
			break
		}
	}
}

func (e *EventEmitter) RemoveAllListeners(events ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(events) == 0 {
		e.listeners = nil
		return
	}
	for _, event := range events {
		delete(e.listeners, event)
	}
}

func (e *EventEmitter) ListenerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.listeners[event])
}

type eventListener struct {
	value    reflect.Value
	argTypes []reflect.Type
	once     *sync.Once
}

func newEventListener(listener interface{}, once bool) *eventListener {
	value := reflect.ValueOf(listener)
	valueType := value.Type()

	l := &eventListener{value: value}

	for i := 0; i < valueType.NumIn(); i++ {
		l.argTypes = append(l.argTypes, valueType.In(i))
	}
	if once {
		l.once = &sync.Once{}
	}

	return l
}

func (l *eventListener) Call(args ...interface{}) {
	call := func() {
		argValues := make([]reflect.Value, 0, len(args))
		for i, arg := range args {
			argValues = append(argValues, l.argValue(i, arg))
		}
		if !l.value.Type().IsVariadic() {
			argValues = l.alignArguments(argValues)
		}
		// ignore returns
		l.value.Call(argValues)
	}

	if l.once != nil {
		l.once.Do(call)
	} else {
		call()
	}
}

// argValue converts nil and convertible arguments to the declared parameter type.
func (l *eventListener) argValue(i int, arg interface{}) reflect.Value {
	if i >= len(l.argTypes) || l.value.Type().IsVariadic() {
		if arg == nil {
			return reflect.ValueOf(&arg).Elem()
		}
		return reflect.ValueOf(arg)
	}
	argType := l.argTypes[i]

	if arg == nil {
		return reflect.Zero(argType)
	}
	value := reflect.ValueOf(arg)

	if value.Type() != argType && value.Type().ConvertibleTo(argType) {
		return value.Convert(argType)
	}
	return value
}

func (l *eventListener) alignArguments(args []reflect.Value) []reflect.Value {
	argLen := len(l.argTypes)

	if len(args) >= argLen {
		return args[:argLen]
	}
	for _, argType := range l.argTypes[len(args):] {
		args = append(args, reflect.Zero(argType))
	}
	return args
}

func isValidListener(fn interface{}) error {
	if fn == nil || reflect.TypeOf(fn).Kind() != reflect.Func {
		return fmt.Errorf("%T is not a reflect.Func", fn)
	}
	return nil
}

package server

import (
	"context"
	"errors"
	"fmt"
	"go/token"
	"maps"
	"reflect"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/smallnest/rpcxbench/log"
)

var (
	typeOfContext = reflect.TypeFor[context.Context]()
	typeOfError   = reflect.TypeFor[error]()
)

// method is one callable of a service:
//
//	func (t *T) Name(ctx context.Context, args *Args, reply *Reply) error
type method struct {
	fn        reflect.Value
	argType   reflect.Type
	replyType reflect.Type
}

// newArg allocates an argument for m. ptr is what a codec decodes into and
// arg is what the method receives.
func (m *method) newArg() (ptr, arg reflect.Value) {
	if m.argType.Kind() == reflect.Pointer {
		ptr = reflect.New(m.argType.Elem())
		return ptr, ptr
	}
	ptr = reflect.New(m.argType)
	return ptr, ptr.Elem()
}

func (m *method) newReply() reflect.Value {
	return reflect.New(m.replyType.Elem())
}

type service struct {
	name    string
	rcvr    reflect.Value
	methods map[string]*method
}

func newService(rcvr any, name string) (*service, error) {
	v := reflect.ValueOf(rcvr)
	if !v.IsValid() {
		return nil, errors.New("rpcx: register nil receiver")
	}
	if name == "" {
		name = reflect.Indirect(v).Type().Name()
		if !token.IsExported(name) {
			return nil, fmt.Errorf("rpcx: type %s is not exported", v.Type())
		}
	}

	svc := &service{name: name, rcvr: v, methods: make(map[string]*method)}
	for i := 0; i < v.Type().NumMethod(); i++ {
		m := v.Type().Method(i)
		mt, err := inspect(m.Type)
		if err != nil {
			log.Debugf("rpcx: %s.%s is not exposed: %v", name, m.Name, err)
			continue
		}
		mt.fn = m.Func
		svc.methods[m.Name] = mt
	}

	if len(svc.methods) > 0 {
		return svc, nil
	}
	if v.Kind() != reflect.Pointer {
		if ptr := reflect.PointerTo(v.Type()); ptr.NumMethod() > 0 {
			return nil, fmt.Errorf("rpcx: %s has no exported methods of suitable type (hint: pass a pointer)", name)
		}
	}
	return nil, fmt.Errorf("rpcx: %s has no exported methods of suitable type", name)
}

// inspect checks the signature of a method value type, receiver included.
func inspect(ft reflect.Type) (*method, error) {
	if ft.NumIn() != 4 {
		return nil, fmt.Errorf("takes %d arguments, want 3", ft.NumIn()-1)
	}
	if !ft.In(1).Implements(typeOfContext) {
		return nil, fmt.Errorf("first argument %s is not a context.Context", ft.In(1))
	}
	arg, reply := ft.In(2), ft.In(3)
	if !visible(arg) {
		return nil, fmt.Errorf("argument type %s is not exported", arg)
	}
	if reply.Kind() != reflect.Pointer {
		return nil, fmt.Errorf("reply type %s is not a pointer", reply)
	}
	if !visible(reply) {
		return nil, fmt.Errorf("reply type %s is not exported", reply)
	}
	if ft.NumOut() != 1 || ft.Out(0) != typeOfError {
		return nil, errors.New("must return exactly one error")
	}
	return &method{argType: arg, replyType: reply}, nil
}

// visible reports whether t, or the type it points to, is exported or predeclared.
func visible(t reflect.Type) bool {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return token.IsExported(t.Name()) || t.PkgPath() == ""
}

// call runs m, turning a panic in the service into an error.
func (s *service) call(ctx context.Context, m *method, arg, reply reflect.Value) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("rpcx: %s panicked: %v", s.name, p)
			log.Errorf("%v\n%s", err, debug.Stack())
		}
	}()

	out := m.fn.Call([]reflect.Value{s.rcvr, reflect.ValueOf(ctx), arg, reply})
	if e := out[0].Interface(); e != nil {
		return e.(error)
	}
	return nil
}

type registry struct {
	mu       sync.RWMutex
	services map[string]*service
}

func (r *registry) add(svc *service) {
	r.mu.Lock()
	if r.services == nil {
		r.services = make(map[string]*service)
	}
	r.services[svc.name] = svc
	r.mu.Unlock()
}

func (r *registry) lookup(path, name string) (*service, *method, error) {
	r.mu.RLock()
	svc := r.services[path]
	r.mu.RUnlock()

	if svc == nil {
		return nil, nil, fmt.Errorf("rpcx: can't find service %s", path)
	}
	m := svc.methods[name]
	if m == nil {
		return nil, nil, fmt.Errorf("rpcx: can't find method %s.%s", path, name)
	}
	return svc, m, nil
}

func (r *registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.services))
}

// Register publishes the suitable methods of rcvr under the name of its
// concrete type. metadata is passed to RegisterPlugins.
func (s *Server) Register(rcvr any, metadata string) error {
	return s.register("", rcvr, metadata)
}

// RegisterName is like Register but uses name instead of the type name.
func (s *Server) RegisterName(name string, rcvr any, metadata string) error {
	if name == "" {
		return errors.New("rpcx: empty service name")
	}
	return s.register(name, rcvr, metadata)
}

func (s *Server) register(name string, rcvr any, metadata string) error {
	svc, err := newService(rcvr, name)
	if err != nil {
		log.Errorf("%v", err)
		return err
	}
	s.services.add(svc)
	return s.Plugins.registered(svc.name, rcvr, metadata)
}

// Services returns the sorted names of the registered services.
func (s *Server) Services() []string {
	return s.services.names()
}

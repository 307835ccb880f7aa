//go:build linux

package wayland

// Core protocol opcodes.
const (
	displayRequestSync        = 0
	displayRequestGetRegistry = 1

	displayEventError    = 0
	displayEventDeleteID = 1

	registryRequestBind = 0

	registryEventGlobal       = 0
	registryEventGlobalRemove = 1

	callbackEventDone = 0
)

// Display is the wl_display singleton, always object id 1.
type Display struct {
	p *Proxy
}

func newDisplay(c *Conn) *Display {
	d := &Display{p: c.newProxy("wl_display", 1)}
	d.p.Handle(d.handle)
	return d
}

func (d *Display) handle(opcode uint16, a *Args) error {
	c := d.p.conn
	switch opcode {
	case displayEventError:
		id, code, msg := a.Object(), a.Uint(), a.String()
		iface := "unknown"
		if p, ok := c.objects[id]; ok {
			iface = p.Interface()
		}
		return &ProtocolError{ObjectID: id, Interface: iface, Code: code, Message: msg}
	case displayEventDeleteID:
		delete(c.objects, a.Uint())
	}
	return nil
}

// Sync asks the compositor to answer once every earlier request has been
// processed.
func (d *Display) Sync() *Callback {
	cb := &Callback{p: d.p.conn.newProxy("wl_callback", 1)}
	cb.p.Handle(cb.handle)
	d.p.Send(d.p.Request(displayRequestSync).NewID(cb.p.id))
	return cb
}

// GetRegistry creates the registry. Set its handlers before the next
// dispatch.
func (d *Display) GetRegistry() *Registry {
	r := &Registry{p: d.p.conn.newProxy("wl_registry", 1)}
	r.p.Handle(r.handle)
	d.p.Send(d.p.Request(displayRequestGetRegistry).NewID(r.p.id))
	return r
}

// Callback is a one-shot wl_callback.
type Callback struct {
	p    *Proxy
	done bool
	data uint32
}

func (cb *Callback) handle(opcode uint16, a *Args) error {
	if opcode == callbackEventDone {
		cb.data = a.Uint()
		cb.done = true
	}
	return nil
}

// Done reports whether the compositor has fired the callback.
func (cb *Callback) Done() bool { return cb.done }

// Global is one advertised compositor global.
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
}

// Registry is the wl_registry proxy.
type Registry struct {
	p *Proxy

	OnGlobal       func(Global)
	OnGlobalRemove func(name uint32)
}

func (r *Registry) handle(opcode uint16, a *Args) error {
	switch opcode {
	case registryEventGlobal:
		g := Global{Name: a.Uint(), Interface: a.String(), Version: a.Uint()}
		if a.Err() == nil && r.OnGlobal != nil {
			r.OnGlobal(g)
		}
	case registryEventGlobalRemove:
		name := a.Uint()
		if a.Err() == nil && r.OnGlobalRemove != nil {
			r.OnGlobalRemove(name)
		}
	}
	return nil
}

// Bind binds global name to a new proxy of the given interface and version.
func (r *Registry) Bind(name uint32, iface string, version uint32) *Proxy {
	p := r.p.conn.newProxy(iface, version)
	r.p.Send(r.p.Request(registryRequestBind).
		Uint(name).
		String(iface).
		Uint(version).
		NewID(p.id))
	return p
}

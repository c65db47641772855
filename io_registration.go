package rtcore

// Registration is the handle an I/O wrapper (a TCP/UDP/file type built as
// user code atop this core — see spec's Non-goals) holds for one source
// registered with a Reactor. It is the concrete implementation of the
// "Reactor-facing I/O source interface": register once, then poll each
// direction independently as the wrapper's own Future implementations
// need to.
type Registration struct {
	reactor *Reactor
	token   Token
	fd      int
}

// RegisterSource registers fd with initial interest and returns a
// Registration for polling it. Fails with ErrAlreadyRegistered if fd is
// already registered.
func (r *Reactor) RegisterSource(fd int, initial Interest) (*Registration, error) {
	tok, err := r.Register(fd, initial)
	if err != nil {
		return nil, err
	}
	return &Registration{reactor: r, token: tok, fd: fd}, nil
}

// PollReadable returns Ready once fd is readable (or has hung up/errored),
// consuming that readiness; otherwise it arms cx's waker for the read
// direction and returns Pending. Must be re-armed after every Pending, same
// as any other Future-shaped poll.
func (reg *Registration) PollReadable(cx *Context) (PollState, error) {
	return reg.reactor.pollDirection(reg.fd, false, cx.Waker().Clone())
}

// PollWritable is PollReadable's write-direction symmetric counterpart.
func (reg *Registration) PollWritable(cx *Context) (PollState, error) {
	return reg.reactor.pollDirection(reg.fd, true, cx.Waker().Clone())
}

// Deregister removes the source from the reactor. Idempotent: calling it
// more than once, or after the reactor has already dropped the
// registration, is a no-op.
func (reg *Registration) Deregister() error {
	err := reg.reactor.Deregister(reg.token)
	if err == ErrNotRegistered {
		return nil
	}
	return err
}

package etch

// Channel is a bounded FIFO used by coroutines to hand values to one
// another (spec §4.7). Unlike arrays/tables/closures it isn't a Heap
// slot: its lifetime is scheduler-owned rather than refcounted, so it
// lives in VM.channels and is addressed by a KindChannel Value whose
// I field is a channels-map key (see value.go).
type Channel struct {
	buf      []Value
	cap      int
	closed   bool

	// waitingSenders/waitingReceivers are the coroutines parked on
	// this channel being full or empty, in FIFO wake order.
	waitingSenders   []*Coroutine
	waitingReceivers []*Coroutine
}

func newChannel(capacity int) *Channel {
	if capacity < 0 {
		capacity = 0
	}
	return &Channel{cap: capacity, buf: make([]Value, 0, capacity)}
}

func (ch *Channel) full() bool  { return len(ch.buf) >= ch.cap }
func (ch *Channel) empty() bool { return len(ch.buf) == 0 }

// execChannelNew allocates a channel of the capacity held in register
// B and stores its handle in A (spec §4.7 "chan.new").
func (vm *VM) execChannelNew(f *Frame, in Instr) (bool, error) {
	capVal := f.reg(in.B)
	if capVal.Kind != KindInt {
		return false, vm.wrapPanic(f, errChannelCapacity(capVal))
	}
	id := vm.nextChannelID
	vm.nextChannelID++
	vm.channels[id] = newChannel(int(capVal.I))
	f.setReg(in.A, ChannelHandle(id))
	return true, nil
}

// execChannelSend pushes the value in register B onto the channel
// held in register A (spec §4.7 "chan.send"). A full channel parks
// the current coroutine in CoroBlocked until a receiver makes room;
// sending from the host's top-level frame (not a coroutine) on a full
// channel is a panic, since there is no scheduler to resume it later.
func (vm *VM) execChannelSend(f *Frame, in Instr) (bool, error) {
	handle := f.reg(in.A)
	if handle.Kind != KindChannel {
		return false, vm.wrapPanic(f, errNotAChannel(handle))
	}
	ch := vm.channels[handle.SlotID()]
	if ch == nil || ch.closed {
		return false, vm.wrapPanic(f, errChannelClosed())
	}
	val := f.reg(in.B)

	if ch.full() {
		coro := f.CoroSelf
		if coro == nil {
			return false, vm.wrapPanic(f, errChannelWouldBlock())
		}
		coro.State = CoroBlocked
		coro.BlockedOn = handle.SlotID()
		coro.BlockedSend = true
		coro.pendingSend = val
		ch.waitingSenders = append(ch.waitingSenders, coro)
		vm.pendingYield = true
		return false, nil
	}

	ch.buf = append(ch.buf, val)
	vm.wakeReceiver(ch)
	return true, nil
}

// execChannelRecv pops a value from the channel held in register B
// into register A (spec §4.7 "chan.recv"), wrapped in Some; recv on a
// closed, drained channel yields None. An empty open channel parks
// the current coroutine the same way a full one does for senders.
func (vm *VM) execChannelRecv(f *Frame, in Instr) (bool, error) {
	handle := f.reg(in.B)
	if handle.Kind != KindChannel {
		return false, vm.wrapPanic(f, errNotAChannel(handle))
	}
	ch := vm.channels[handle.SlotID()]
	if ch == nil {
		return false, vm.wrapPanic(f, errChannelClosed())
	}

	if ch.empty() {
		if ch.closed {
			f.setReg(in.A, None())
			return true, nil
		}
		coro := f.CoroSelf
		if coro == nil {
			return false, vm.wrapPanic(f, errChannelWouldBlock())
		}
		coro.State = CoroBlocked
		coro.BlockedOn = handle.SlotID()
		coro.BlockedSend = false
		ch.waitingReceivers = append(ch.waitingReceivers, coro)
		vm.pendingYield = true
		return false, nil
	}

	val := ch.buf[0]
	ch.buf = ch.buf[1:]
	f.setReg(in.A, Some(val))
	vm.wakeSender(ch)
	return true, nil
}

// wakeReceiver and wakeSender unpark the oldest coroutine waiting on
// the opposite end of a channel operation that just freed capacity.
// The woken coroutine stays parked at its blocking instruction's PC
// (never advanced on block) and goes back to CoroSuspended, so its
// next Resume call re-enters execChannelSend/execChannelRecv and
// retries the operation against the channel's now-changed state.
func (vm *VM) wakeReceiver(ch *Channel) {
	if len(ch.waitingReceivers) == 0 {
		return
	}
	coro := ch.waitingReceivers[0]
	ch.waitingReceivers = ch.waitingReceivers[1:]
	coro.State = CoroSuspended
}

func (vm *VM) wakeSender(ch *Channel) {
	if len(ch.waitingSenders) == 0 {
		return
	}
	coro := ch.waitingSenders[0]
	ch.waitingSenders = ch.waitingSenders[1:]
	coro.State = CoroSuspended
}

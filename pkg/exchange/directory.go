package exchange

import "strings"

// Handler is called on the event loop for every incoming message of a
// subscribed type. cid identifies the sending peer.
type Handler func(e *Exchange, cid int, msgType, version uint32, payload []byte)

// message is one known message type: its numeric id, its name once
// known, and who subscribes to it. Message records live for the life of
// the exchange.
type message struct {
	msgType uint32
	name    string // "" until learned

	subscriptions []*subscription

	onNewSub SubscriberHandler
	onEndSub SubscriberHandler
}

// subscription ties a component to a message type. The handler is only
// set on self-subscriptions.
type subscription struct {
	comp    *component
	msg     *message
	handler Handler
}

// directory is this process's view of the exchange: components keyed by
// connection slot and message types keyed by id and by name. It is only
// ever touched from the event-loop thread (and from the constructor
// before any worker runs).
type directory struct {
	components []*component // dense, indexed by cid; nil entries are free slots
	byType     map[uint32]*message
	byName     map[string]*message
	nextType   uint32
}

func newDirectory() *directory {
	return &directory{
		byType: make(map[uint32]*message),
		byName: make(map[string]*message),
	}
}

// add stores comp in the lowest free slot and returns the slot index.
// Slot reuse mirrors how the kernel hands out file descriptors.
func (d *directory) add(comp *component) int {
	for i, c := range d.components {
		if c == nil {
			d.components[i] = comp
			comp.cid = i
			return i
		}
	}
	d.components = append(d.components, comp)
	comp.cid = len(d.components) - 1
	return comp.cid
}

// drop frees the slot held by cid.
func (d *directory) drop(cid int) {
	if cid >= 0 && cid < len(d.components) {
		d.components[cid] = nil
	}
}

// component returns the peer on the given slot, nil if there is none.
func (d *directory) component(cid int) *component {
	if cid < 0 || cid >= len(d.components) {
		return nil
	}
	return d.components[cid]
}

// each calls fn for every connected component in slot order.
func (d *directory) each(fn func(*component)) {
	for _, c := range d.components {
		if c != nil {
			fn(c)
		}
	}
}

// count returns the number of connected components. With a non-empty
// prefix only components whose name begins with it are counted; unnamed
// ones never match a prefix.
func (d *directory) count(prefix string) int {
	n := 0
	for _, c := range d.components {
		switch {
		case c == nil:
		case prefix == "":
			n++
		case c.name == "":
		case strings.HasPrefix(c.name, prefix):
			n++
		}
	}
	return n
}

// ensureMessage returns the record for the given type id, creating a
// nameless one when the type is not yet known. created reports whether
// a record was made.
func (d *directory) ensureMessage(msgType uint32, name string) (msg *message, created bool) {
	if msg = d.byType[msgType]; msg != nil {
		if msg.name == "" && name != "" {
			msg.name = name
			d.byName[name] = msg
		}
		return msg, false
	}
	msg = &message{msgType: msgType, name: name}
	d.byType[msgType] = msg
	if name != "" {
		d.byName[name] = msg
	}
	if msgType >= d.nextType {
		d.nextType = msgType + 1
	}
	return msg, true
}

// findSubscription returns comp's subscription to msg, nil if none.
func findSubscription(msg *message, comp *component) *subscription {
	for _, s := range msg.subscriptions {
		if s.comp == comp {
			return s
		}
	}
	return nil
}

func addSubscription(msg *message, comp *component, h Handler) *subscription {
	sub := &subscription{comp: comp, msg: msg, handler: h}
	msg.subscriptions = append(msg.subscriptions, sub)
	comp.subscriptions = append(comp.subscriptions, sub)
	return sub
}

func removeSubscription(sub *subscription) {
	sub.msg.subscriptions = removeSub(sub.msg.subscriptions, sub)
	sub.comp.subscriptions = removeSub(sub.comp.subscriptions, sub)
}

func removeSub(subs []*subscription, sub *subscription) []*subscription {
	for i, s := range subs {
		if s == sub {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

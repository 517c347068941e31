package ducttape

import (
	"github.com/SeattleMeshnet/meshcore/src/address"
	"github.com/SeattleMeshnet/meshcore/src/router"
)

// RouterKeyLookup adapts a router.Module as a contentsession.KeyLookup: a
// tunnel packet addressed to a destination with no content session yet is
// resolved against whatever that routing module already knows directly
// (router.Module.Lookup, the exact-match query it documents as existing for
// this purpose), rather than buffering for the full lookup timeout and
// silently dropping.
//
// SendLookup is called from inside the content-session manager's own actor
// (contentsession.Manager.SendTo), so the lookup itself runs on a separate
// goroutine: calling back into the dispatcher synchronously from within that
// manager's own call stack would deadlock its single-threaded mailbox.
type RouterKeyLookup struct {
	Router     router.Module
	Dispatcher *Dispatcher
}

// NewRouterKeyLookup builds a RouterKeyLookup wiring rt and d together. d
// must already be constructed, which is why this is wired into d's own
// content-session manager after the fact via contentsession.Manager.SetLookup
// rather than passed into New directly.
func NewRouterKeyLookup(rt router.Module, d *Dispatcher) RouterKeyLookup {
	return RouterKeyLookup{Router: rt, Dispatcher: d}
}

// SendLookup implements contentsession.KeyLookup.
func (k RouterKeyLookup) SendLookup(addr address.Address) {
	go func() {
		if node, ok := k.Router.Lookup(addr); ok {
			k.Dispatcher.ResolvedKey(node.Key)
		}
	}()
}

package traffic

import (
	"github.com/daviddao/gridlock/pkg/ident"
	"github.com/daviddao/gridlock/pkg/runtime"
	"github.com/daviddao/gridlock/pkg/worldmap"
)

// NewBehavior returns the behavior factory the shard router uses to
// spawn or revive entities on this node: mobiles get a Mobile, every
// static kind gets an Immovable with its protocol.
func NewBehavior(world *worldmap.Map, nodeAddr string) func(id ident.ID) (runtime.Behavior, error) {
	return func(id ident.ID) (runtime.Behavior, error) {
		if ident.Mobile(id) {
			return NewMobile(id)
		}
		return NewImmovable(id, world, nodeAddr)
	}
}

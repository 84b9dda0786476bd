package gen

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

// Node ids per binary. Ids generated concurrently by two processes collide
// unless their nodes differ.
const (
	NodePlatform     int64 = 1
	NodeWorker       int64 = 2
	NodeSeedProduct  int64 = 3
	NodeSeedReferral int64 = 4
)

// Snowflake provides the *snowflake.Node for the given node id.
func Snowflake(id int64) fx.Option {
	return fx.Provide(func() (*snowflake.Node, error) {
		return NewNode(id)
	})
}

func NewNode(id int64) (*snowflake.Node, error) {
	return snowflake.NewNode(id)
}

package peerchef

// Topic is the name of a pub/sub channel.
type Topic string

// RecipesTopic is shared by every node of the network.
const RecipesTopic Topic = "recipes"

func (t Topic) String() string {
	return string(t)
}

// NodeContext holds what a node is for its whole lifetime: who it is and
// where it talks. It is built once at startup and handed to the event loop
// and membership manager, several nodes can live in the same process.
type NodeContext struct {
	Identity *Identity
	Topic    Topic
}

// NewNodeContext builds a context on the well-known recipes topic.
func NewNodeContext(id *Identity) NodeContext {
	return NodeContext{
		Identity: id,
		Topic:    RecipesTopic,
	}
}

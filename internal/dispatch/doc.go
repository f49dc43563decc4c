// Package dispatch routes inbound MQTT messages to registered handlers.
//
// A Definition declares a handler, the topic templates it subscribes to and
// the parameters it expects. Table.Register compiles the templates (see
// package topic), orders them by specificity and stores the resulting
// Route. For every inbound message Table.Dispatch:
//
//  1. selects the routes that apply to the receiving client
//  2. for each route, finds the first pattern that matches the topic
//  3. binds the handler parameters from the message and path variables
//  4. invokes the handler, recovering panics and logging errors
//
// Parameters are described up front with Payload, PathVar, RawMessage and
// Infer, so no reflection over handler signatures is needed:
//
//	table.Register(dispatch.Definition{
//	    ID:     "room-temperature",
//	    Topics: []string{"sensors/{room}/temp"},
//	    QoS:    []byte{1},
//	    Params: []dispatch.Param{
//	        dispatch.PathVar[string]("room"),
//	        dispatch.Payload[float64](),
//	    },
//	    Handler: dispatch.HandlerFunc(func(ctx context.Context, args dispatch.Args) error {
//	        room := dispatch.Arg[string](args, 0)
//	        celsius := dispatch.Arg[float64](args, 1)
//	        ...
//	    }),
//	})
//
// Thread Safety:
//   - Dispatch may be called concurrently from several client connections.
//   - Register and Unregister publish a new route slice (copy-on-write), so
//     in-flight dispatches keep the snapshot they started with.
package dispatch

// Package runtime wires configuration, the metadata store, metrics and the
// chain registry into a single-node trustchain instance.
//
// Example:
//
//	rt, err := runtime.Open(runtime.Options{Config: config.Default()})
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//	c, err := rt.OpenChain(ctx, "default/orders")
package runtime

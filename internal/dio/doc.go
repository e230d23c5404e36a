// Package dio is the typed object layer over a chain.
//
// A Dio is a transaction: it stages stores and deletes made on behalf of one
// session and commits them all-or-nothing. Dao[T] is a loaded object that
// remembers the version it was read at, so saving it after someone else did
// fails with a version conflict instead of overwriting their change.
// DaoVec[T] names a collection of children under a parent object, and
// Bus[T] turns pushes to such a collection into a message stream: Recv
// broadcasts every item to every bus, Process hands each item to exactly one
// competing consumer, which deletes it.
//
//	d := dio.New(c, sess)
//	key, err := d.Store(Ball{Name: "ping"})
//	_, err = d.Commit(ctx)
//	ball, err := dio.Load[Ball](ctx, dio.New(c, sess), key)
package dio

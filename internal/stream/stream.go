package stream

type Stream[T any] interface {
	Append(value T) Cursor
	Listen(listener func(cursor Cursor, val T)) (stop func())
}

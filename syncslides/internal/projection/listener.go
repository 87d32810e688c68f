package projection

// Listener receives the changes of a List. Methods are called on the list's Loop.
// Listeners are compared by ==, so register pointers.
type Listener interface {
	DataSetChanged()
	ItemChanged(index int)
	ItemInserted(index int)
	ItemRemoved(index int)
	OnError(err error)
}

var _ Listener = (*ListenerFuncs)(nil)

// ListenerFuncs adapts functions to Listener, nil fields are ignored.
type ListenerFuncs struct {
	Reset    func()
	Changed  func(index int)
	Inserted func(index int)
	Removed  func(index int)
	Error    func(err error)
}

func (f *ListenerFuncs) DataSetChanged() {
	if f.Reset != nil {
		f.Reset()
	}
}

func (f *ListenerFuncs) ItemChanged(index int) {
	if f.Changed != nil {
		f.Changed(index)
	}
}

func (f *ListenerFuncs) ItemInserted(index int) {
	if f.Inserted != nil {
		f.Inserted(index)
	}
}

func (f *ListenerFuncs) ItemRemoved(index int) {
	if f.Removed != nil {
		f.Removed(index)
	}
}

func (f *ListenerFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// ScalarListener receives the effective value of a Merger. Methods are called on the Loop.
type ScalarListener[T any] interface {
	OnChange(value T)
	OnError(err error)
}

var _ ScalarListener[int] = (*ScalarListenerFuncs[int])(nil)

type ScalarListenerFuncs[T any] struct {
	Change func(value T)
	Error  func(err error)
}

func (f *ScalarListenerFuncs[T]) OnChange(value T) {
	if f.Change != nil {
		f.Change(value)
	}
}

func (f *ScalarListenerFuncs[T]) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

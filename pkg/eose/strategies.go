package eose

// single is the group of strategies with exactly one subscription.
const single = "single"

type perKey[K any] struct{ id func(K) string }

func (s perKey[K]) Identity(k K) string { return s.id(k) }
func (s perKey[K]) Group(k K) string    { return s.id(k) }
func (perKey[K]) Cached() bool          { return true }

// UserList names one list of one user, such as a follow list.
type UserList struct {
	User string
	List string
}

func (u UserList) String() string { return u.User + ":" + u.List }

type perUserList[K any] struct{ key func(K) UserList }

func (s perUserList[K]) Identity(k K) string { return s.key(k).String() }
func (s perUserList[K]) Group(k K) string    { return s.key(k).String() }
func (perUserList[K]) Cached() bool          { return true }

type singleSub[K any] struct {
	id     func(K) string
	cached bool
}

func (s singleSub[K]) Identity(k K) string { return s.id(k) }
func (singleSub[K]) Group(K) string        { return single }
func (s singleSub[K]) Cached() bool        { return s.cached }

// PerUniqueID opens one subscription per distinct query id. Every observer
// of the same id shares the subscription and its EOSE marks.
func PerUniqueID[K any](c Client, id func(K) string, build Builder[K],
	opts ...Option) *Manager[K] {

	return New[K](c, perKey[K]{id: id}, build, opts...)
}

// PerUserAndFollowList opens one subscription per user and list. Marks are
// kept per pair, so switching lists starts the new list from its own marks.
func PerUserAndFollowList[K any](c Client, key func(K) UserList, build Builder[K],
	opts ...Option) *Manager[K] {

	return New[K](c, perUserList[K]{key: key}, build, opts...)
}

// PerUser opens one subscription per user. A user's marks survive the user
// going away and coming back.
func PerUser[K any](c Client, user func(K) string, build Builder[K],
	opts ...Option) *Manager[K] {

	return New[K](c, perKey[K]{id: user}, build, opts...)
}

// SingleSub puts every key into one subscription that shares one set of
// marks.
func SingleSub[K any](c Client, id func(K) string, build Builder[K],
	opts ...Option) *Manager[K] {

	return New[K](c, singleSub[K]{id: id, cached: true}, build, opts...)
}

// SingleSubNoEoseCache is SingleSub for filters where since makes no sense:
// EOSE is ignored and the builder always gets nil marks.
func SingleSubNoEoseCache[K any](c Client, id func(K) string, build Builder[K],
	opts ...Option) *Manager[K] {

	return New[K](c, singleSub[K]{id: id}, build, opts...)
}

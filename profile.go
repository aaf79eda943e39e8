package bucketcache

// ProfileProvider reports the GUID of the active user profile. Identifiers
// are prefixed with it so cache state never leaks across profiles sharing
// the same process.
type ProfileProvider interface {
	ActiveProfileGUID() string
}

// ProfileFunc adapts a function to the ProfileProvider interface.
type ProfileFunc func() string

// ActiveProfileGUID implements ProfileProvider.
func (f ProfileFunc) ActiveProfileGUID() string {
	return f()
}

// StaticProfile returns a provider pinned to a single profile GUID.
func StaticProfile(guid string) ProfileProvider {
	return ProfileFunc(func() string { return guid })
}

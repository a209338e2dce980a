package models

// Addr is the human-readable address of an account or a service instance.
type Addr string

func (a Addr) String() string { return string(a) }

// Empty reports whether the address is unset.
func (a Addr) Empty() bool { return a == "" }

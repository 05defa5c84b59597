//go:build !linux

package probe

func platformProbe() MemoryProbe { return nil }

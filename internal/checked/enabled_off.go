//go:build !memcheck

package checked

// Enabled is the default for allocator Config.Checked. Build with -tags memcheck to flip it.
const Enabled = false

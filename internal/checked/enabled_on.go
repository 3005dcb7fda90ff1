//go:build memcheck

package checked

// Enabled is the default for allocator Config.Checked.
const Enabled = true

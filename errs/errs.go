// Package errs defines the error-code vocabulary of the VM core, mirroring
// the teacher kernel's defs.Err_t: a small negative-valued code rather than
// a wrapped Go error. The core's operations report failure through a bool
// or nil return; the code is attached to the log line at each rejection
// site to record *why* it failed, and is not returned to callers.
package errs

// Err_t is a VM-core error code. Zero means success; negative values name a
// specific failure. Code that needs to report *why* an external collaborator
// failed (as opposed to *which* coded condition arose) should wrap the
// underlying error with github.com/pkg/errors instead of inventing new codes.
type Err_t int

const (
	// EFAULT: address outside any mapped region, or a hardware fault the
	// handler refuses to service (out-of-range access, guard page, stack
	// fault out of the growth window).
	EFAULT Err_t = -1 - iota
	// ENOMEM: frame or descriptor allocation failed.
	ENOMEM
	// ENOHEAP: a resource-accounting cap was hit (mirrors the teacher's
	// res.Resadd_noblock failure path); treated like ENOMEM by callers
	// that don't distinguish the two.
	ENOHEAP
	// EINVAL: malformed argument (unaligned address, zero length, bad
	// offset) rejected before any state is touched.
	EINVAL
	// EEXIST: a descriptor already occupies the requested virtual page.
	EEXIST
	// ENAMETOOLONG: a bounded copy (e.g. a user string) exceeded its cap.
	ENAMETOOLONG
)

// String renders the code's mnemonic name for logging.
func (e Err_t) String() string {
	switch e {
	case 0:
		return "OK"
	case EFAULT:
		return "EFAULT"
	case ENOMEM:
		return "ENOMEM"
	case ENOHEAP:
		return "ENOHEAP"
	case EINVAL:
		return "EINVAL"
	case EEXIST:
		return "EEXIST"
	case ENAMETOOLONG:
		return "ENAMETOOLONG"
	default:
		return "EUNKNOWN"
	}
}

// Ok reports whether e represents success.
func (e Err_t) Ok() bool { return e == 0 }

package patterns

import "github.com/guardianshield/grimoire/internal/classify"

// x86_64 syscall numbers used by the seed suite; kept local because
// classify's own syscall-number constants are unexported.
const (
	nrRead         = 0
	nrWrite        = 1
	nrSetuid       = 105
	nrSocket       = 41
	nrConnect      = 42
	nrDup2         = 33
	nrExecve       = 59
	nrOpenat       = 257
	nrFinitModule  = 313
	nrClone        = 56
)

const (
	afINET      = 2
	sockSTREAM  = 1
	cloneVMBit  = 0x00000100
	oRDONLY     = 0
)

func init() {
	register(reverseShellClassic())
	register(forkBombRapid())
	register(privescSetuidRoot())
	register(credExfilSSHKey())
	register(rootkitModuleLoad())
	index()
}

func reverseShellClassic() Pattern {
	return Pattern{
		Name:     "reverse_shell_classic",
		Severity: SeverityCritical,
		WindowNs: 2_000_000_000,
		Steps: []Step{
			{
				Match: StepMatch{HasSyscallNr: true, SyscallNr: nrSocket},
				Constraints: []ArgConstraint{
					{ArgIndex: 0, Op: OpEquals, Value: afINET},
					{ArgIndex: 1, Op: OpEquals, Value: sockSTREAM},
				},
				MinCount: 1,
			},
			{
				Match:    StepMatch{HasSyscallNr: true, SyscallNr: nrConnect},
				MinCount: 1,
			},
			{
				Match:    StepMatch{HasSyscallNr: true, SyscallNr: nrDup2, HasClass: true, Class: classify.FDDup},
				MinCount: 3,
				MaxCount: 3,
			},
			{
				Match:    StepMatch{HasSyscallNr: true, SyscallNr: nrExecve},
				MinCount: 1,
				Terminal: true,
			},
		},
	}
}

func forkBombRapid() Pattern {
	return Pattern{
		Name:     "fork_bomb_rapid",
		Severity: SeverityHigh,
		WindowNs: 100_000_000,
		Steps: []Step{
			{
				Match: StepMatch{HasSyscallNr: true, SyscallNr: nrClone, HasClass: true, Class: classify.ProcessCreate},
				Constraints: []ArgConstraint{
					{ArgIndex: 0, Op: OpBitmaskClear, Value: cloneVMBit},
				},
				MinCount: 200,
				Terminal: true,
			},
		},
		WhitelistBinaryPaths: []string{"/usr/bin/make"},
	}
}

func privescSetuidRoot() Pattern {
	return Pattern{
		Name:         "privesc_setuid_root",
		Severity:     SeverityCritical,
		WindowNs:     500_000_000,
		PathPrefixes: []string{"/etc/shadow"},
		Steps: []Step{
			{
				Match: StepMatch{HasSyscallNr: true, SyscallNr: nrOpenat},
				Constraints: []ArgConstraint{
					{ArgIndex: 1, Op: OpPathPrefix, PathPrefixIdx: 0},
					{ArgIndex: 2, Op: OpEquals, Value: oRDONLY},
				},
				MinCount: 1,
			},
			{
				Match: StepMatch{HasSyscallNr: true, SyscallNr: nrSetuid},
				Constraints: []ArgConstraint{
					{ArgIndex: 0, Op: OpEquals, Value: 0},
				},
				MinCount: 1,
			},
			{
				Match:    StepMatch{HasSyscallNr: true, SyscallNr: nrExecve},
				MinCount: 1,
				Terminal: true,
			},
		},
		WhitelistProcessNames: []string{"sudo"},
	}
}

func credExfilSSHKey() Pattern {
	return Pattern{
		Name:         "cred_exfil_ssh_key",
		Severity:     SeverityHigh,
		WindowNs:     5_000_000_000,
		PathPrefixes: []string{".ssh/id_rsa"},
		Steps: []Step{
			{
				Match: StepMatch{HasSyscallNr: true, SyscallNr: nrOpenat},
				Constraints: []ArgConstraint{
					{ArgIndex: 1, Op: OpPathPrefix, PathPrefixIdx: 0},
				},
				MinCount: 1,
			},
			{
				Match:    StepMatch{HasSyscallNr: true, SyscallNr: nrSocket, HasClass: true, Class: classify.Network},
				MinCount: 1,
			},
			{
				Match:    StepMatch{HasSyscallNr: true, SyscallNr: nrConnect},
				MinCount: 1,
			},
			{
				Match:    StepMatch{HasSyscallNr: true, SyscallNr: nrWrite, HasClass: true, Class: classify.FileWrite},
				MinCount: 1,
				Terminal: true,
			},
		},
	}
}

func rootkitModuleLoad() Pattern {
	return Pattern{
		Name:         "rootkit_module_load",
		Severity:     SeverityCritical,
		WindowNs:     1_000_000_000,
		PathPrefixes: []string{".ko"},
		Steps: []Step{
			{
				Match: StepMatch{HasSyscallNr: true, SyscallNr: nrOpenat},
				Constraints: []ArgConstraint{
					{ArgIndex: 1, Op: OpPathPrefix, PathPrefixIdx: 0},
				},
				MinCount: 1,
			},
			{
				Match:    StepMatch{HasSyscallNr: true, SyscallNr: nrFinitModule, HasClass: true, Class: classify.KernelModule},
				MinCount: 1,
				Terminal: true,
			},
		},
		WhitelistProcessNames: []string{"modprobe"},
	}
}

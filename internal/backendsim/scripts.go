package backendsim

import "time"

// Script decides how the simulated backend answers one action.
type Script struct {
	Message string
	// Lines are streamed as output frames, followed by a complete frame.
	Lines []string
	// Raw payloads are streamed verbatim ahead of Lines.
	Raw    []string
	Inline map[string]any
	Error  string
	// Status is the HTTP status used with Error. Zero means 500.
	Status int
	Delay  time.Duration
	// Abort drops the stream after the lines without a complete frame.
	Abort bool
	// Hang keeps the stream open after the lines.
	Hang bool
}

func (s Script) streams() bool {
	return len(s.Lines) > 0 || len(s.Raw) > 0 || s.Abort || s.Hang
}

const sampleGPT = `GPT Table:
-------------
boot_para:           Offset 0x0000000000008000, Length 0x0000000000100000, Flags 0x00000000
para:                Offset 0x0000000000108000, Length 0x0000000000080000, Flags 0x00000000
expdb:               Offset 0x0000000000188000, Length 0x0000000001400000, Flags 0x00000000
metadata:            Offset 0x0000000003a88000, Length 0x0000000002000000, Flags 0x00000000
md_udc:              Offset 0x0000000005a88000, Length 0x000000000169a000, Flags 0x00000000
userdata:            Offset 0x00000001d0000000, Length 0x0000000cc8bf8000, Flags 0x00000000`

// DefaultScripts mirrors the MTK tool's responses.
func DefaultScripts() map[string]Script {
	return map[string]Script{
		"detect": {
			Message: "Detected 1 MTK device(s)",
			Inline: map[string]any{
				"detected": true,
				"devices":  []string{"Bus 001 Device 009: ID 0e8d:0003 MediaTek Inc. MT6765 Preloader"},
				"count":    1,
				"mode":     "BROM/Preloader",
			},
		},
		"unlock-bootloader": {
			Message: "Unlocking bootloader...",
			Lines: []string{
				"erasing metadata",
				"erasing userdata",
				"erasing md_udc",
				"writing seccfg",
			},
			Delay: 50 * time.Millisecond,
		},
		"read-partition": {
			Message: "Reading partition...",
			Lines:   []string{"Dumping partition", "Progress: 100%", "Done"},
			Delay:   50 * time.Millisecond,
		},
		"write-partition": {
			Message: "Writing partition...",
			Lines:   []string{"Writing partition", "Progress: 100%", "Done"},
			Delay:   50 * time.Millisecond,
		},
		"erase-partition": {
			Message: "Erasing partition...",
			Lines:   []string{"Formatting partition", "Done"},
			Delay:   50 * time.Millisecond,
		},
		"dump-all": {
			Message: "Starting full backup...",
			Lines:   []string{"Dumping boot_a", "Dumping vbmeta_a", "Dumping nvram", "Backup complete"},
			Delay:   50 * time.Millisecond,
		},
		"print-gpt": {
			Inline: map[string]any{"success": true, "gpt_table": sampleGPT, "error": ""},
		},
		"root-magisk": {
			Message: "Boot image extracted",
			Inline: map[string]any{
				"instructions": []string{
					"1. Transfer boot.img to device",
					"2. Patch it with the Magisk app",
					"3. Copy magisk_patched.img back",
					"4. Flash it with the write-partition operation",
				},
			},
		},
		"bypass-sla":     {Message: "SLA/DA bypass successful"},
		"crash-da":       {Message: "DA crash sent"},
		"read-preloader": {Message: "Reading preloader...", Lines: []string{"Dumping preloader", "Done"}},
		"read-brom":      {Message: "Reading BROM...", Lines: []string{"Running kamakiri", "Dumping brom", "Done"}},
		"generate-keys":  {Message: "RPMB keys generated"},
	}
}

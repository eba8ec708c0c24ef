package tooltest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/hitmap/internal/tool"
)

// PSF simulates dw_bw by creating the output file named by the last argument.
func PSF() Hook {
	return func(inv tool.Invocation) error {
		if len(inv.Args) == 0 {
			return fmt.Errorf("dw_bw: missing output path")
		}
		return os.WriteFile(inv.Args[len(inv.Args)-1], []byte("psf"), 0644)
	}
}

// Deconwolf simulates dw: it writes <prefix>_<image> and its .log.txt next to
// the input image, which is the second to last argument. A relative image path
// is resolved against inv.Dir, as it would be for a process started there.
func Deconwolf() Hook {
	return func(inv tool.Invocation) error {
		prefix := flagValue(inv.Args, "--prefix")
		if prefix == "" || len(inv.Args) < 2 {
			return fmt.Errorf("dw: missing --prefix or input image")
		}
		image := inv.Args[len(inv.Args)-2]
		if !filepath.IsAbs(image) && inv.Dir != "" {
			image = filepath.Join(inv.Dir, image)
		}
		out := filepath.Join(filepath.Dir(image), prefix+"_"+filepath.Base(image))
		if err := os.WriteFile(out, []byte("deconvolved"), 0644); err != nil {
			return err
		}
		return os.WriteFile(out+".log.txt", []byte("log"), 0644)
	}
}

func flagValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

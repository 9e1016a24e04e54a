package banner

import "fmt"

const banner = `
████████╗██╗  ██╗██████╗ ███████╗ █████╗ ██████╗ ██████╗  ██████╗ ██╗  ██╗
╚══██╔══╝██║  ██║██╔══██╗██╔════╝██╔══██╗██╔══██╗██╔══██╗██╔═══██╗╚██╗██╔╝
   ██║   ███████║██████╔╝█████╗  ███████║██║  ██║██████╔╝██║   ██║ ╚███╔╝
   ██║   ██╔══██║██╔══██╗██╔══╝  ██╔══██║██║  ██║██╔══██╗██║   ██║ ██╔██╗
   ██║   ██║  ██║██║  ██║███████╗██║  ██║██████╔╝██████╔╝╚██████╔╝██╔╝ ██╗
   ╚═╝   ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝╚═════╝ ╚═════╝  ╚═════╝ ╚═╝  ╚═╝
`

// Print writes the startup banner with the resolved runtime settings.
func Print(dbPath, metricsAddr, sweepCron, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	if metricsAddr != "" {
		fmt.Printf("Metrics:  http://%s/metrics\n", metricsAddr)
	} else {
		fmt.Println("Metrics:  disabled")
	}
	if sweepCron != "" {
		fmt.Printf("Sweep:    %s\n", sweepCron)
	} else {
		fmt.Println("Sweep:    disabled")
	}
}

// a11yctl - control CLI for the a11yd daemon
//
//	a11yctl status   Show daemon status
//	a11yctl ping     Check that the daemon is answering
package main

import (
	"flag"
	"fmt"
	"os"

	"a11yd/internal/config"
	"a11yd/internal/ipc"
)

func main() {
	socketPath := flag.String("socket", "", "control socket path (default: the daemon's default)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	path := *socketPath
	if path == "" {
		path = config.Default().IPC.SocketPath
	}

	var err error
	switch cmd := flag.Arg(0); cmd {
	case "status":
		err = cmdStatus(path)
	case "ping":
		err = cmdPing(path)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "a11yctl: %v\n", err)
		os.Exit(1)
	}
}

func cmdStatus(path string) error {
	client, err := ipc.Dial(path)
	if err != nil {
		return err
	}
	defer client.Close()

	st, err := client.Status()
	if err != nil {
		return err
	}

	fmt.Printf("clients:         %d\n", st.Clients)
	fmt.Printf("grabbed:         %d\n", st.Grabbed)
	fmt.Printf("watched:         %d\n", st.Watched)
	fmt.Printf("key grabs:       %d\n", st.KeyGrabs)
	fmt.Printf("dropped events:  %d\n", st.DroppedEvents)
	fmt.Printf("tracked owners:  %d\n", st.Owners)
	fmt.Printf("enforcing:       %t\n", st.Enforcing)
	if st.Degraded {
		fmt.Println("ownership stream: DEGRADED")
	}
	return nil
}

func cmdPing(path string) error {
	client, err := ipc.Dial(path)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Ping(); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, `a11yctl - control CLI for a11yd

USAGE:
    a11yctl [-socket PATH] <command>

COMMANDS:
    status    Show daemon status
    ping      Check that the daemon is answering
    help      Show this help message`)
}

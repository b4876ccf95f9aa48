package commands

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/easyshare/easyshare/internal/cli/output"
	"github.com/easyshare/easyshare/internal/cli/prompt"
	"github.com/easyshare/easyshare/internal/proto"
	"github.com/easyshare/easyshare/pkg/client"
)

// command is one client command.
type command struct {
	usage string
	help  string
	run   func(e *env, args []string) error
}

// commandTable dispatches client commands by name, both for one-shot
// invocation and the interactive session.
var commandTable map[string]*command

func init() {
	commandTable = map[string]*command{
		"scan":    {usage: "scan", help: "discover servers on the local network", run: cmdScan},
		"connect": {usage: "connect HOST[:PORT]", help: "connect to a server by address", run: cmdConnect},
		"open":    {usage: "open SHARING", help: "open a sharing, discovering its server if needed", run: cmdOpen},
		"close":   {usage: "close", help: "close the current sharing", run: cmdClose},
		"info":    {usage: "info", help: "show the server descriptor", run: cmdInfo},
		"ping":    {usage: "ping", help: "check the server connection", run: cmdPing},
		"list":    {usage: "list", help: "list the server's sharings", run: cmdList},
		"rpwd":    {usage: "rpwd", help: "print the remote working directory", run: cmdRpwd},
		"rcd":     {usage: "rcd [DIR]", help: "change the remote working directory", run: cmdRcd},
		"rls":     {usage: "rls [-lSrg] [DIR]", help: "list a remote directory", run: cmdRls},
		"rtree":   {usage: "rtree [-d DEPTH] [DIR]", help: "walk a remote directory tree", run: cmdRtree},
		"rmkdir":  {usage: "rmkdir DIR", help: "create a remote directory", run: cmdRmkdir},
		"rmv":     {usage: "rmv SOURCE... DEST", help: "move remote files", run: cmdRmv},
		"rcp":     {usage: "rcp SOURCE... DEST", help: "copy remote files", run: cmdRcp},
		"rrm":     {usage: "rrm PATH...", help: "remove remote files", run: cmdRrm},
		"rfind":   {usage: "rfind [-i] PATTERN", help: "glob remote paths under the working directory", run: cmdRfind},
		"get":     {usage: "get [-y|-n|-N|-s] [PATH...]", help: "download remote files", run: cmdGet},
		"put":     {usage: "put [-y|-n|-N|-s] PATH...", help: "upload local files", run: cmdPut},
		"rexec":   {usage: "rexec CMD...", help: "run a command on the server", run: cmdRexec},
		"rshell":  {usage: "rshell", help: "run a shell on the server", run: cmdRshell},
		"help":    {usage: "help", help: "list commands", run: cmdHelp},
	}
}

// run executes one command by name.
func (e *env) run(name string, args []string) error {
	cmd, ok := commandTable[name]
	if !ok {
		return fmt.Errorf("unknown command %q; try 'help'", name)
	}
	return cmd.run(e, args)
}

// parsePolicyFlags strips overwrite policy flags from args.
func parsePolicyFlags(args []string) (proto.OverwritePolicy, []string) {
	policy := proto.PolicyPrompt
	rest := args[:0:0]
	for _, a := range args {
		switch a {
		case "-y", "--yes":
			policy = proto.PolicyYes
		case "-n", "--no":
			policy = proto.PolicyNo
		case "-N", "--newer":
			policy = proto.PolicyNewer
		case "-s", "--different-size":
			policy = proto.PolicyDifferentSize
		default:
			rest = append(rest, a)
		}
	}
	return policy, rest
}

// parseLsFlags strips listing flags from args. The -l flag is client-side
// presentation, not part of the wire flags.
func parseLsFlags(args []string) (proto.LsFlags, bool, []string) {
	var flags proto.LsFlags
	long := false
	rest := args[:0:0]
	for _, a := range args {
		if !strings.HasPrefix(a, "-") || a == "-" {
			rest = append(rest, a)
			continue
		}
		for _, c := range a[1:] {
			switch c {
			case 'l':
				long = true
			case 'S':
				flags.SortBySize = true
			case 'r':
				flags.Reverse = true
			case 'g':
				flags.GroupDirsFirst = true
			}
		}
	}
	return flags, long, rest
}

func cmdScan(e *env, _ []string) error {
	results, err := client.Scan(e.discoverPort, e.discoverWait)
	if err != nil {
		return err
	}

	found := 0
	for desc := range results {
		found++
		fmt.Printf("%d. %s (%s:%d)\n", found, desc.Name, desc.Address, desc.Port)
		names := make([]string, 0, len(desc.Sharings))
		for _, s := range desc.Sharings {
			suffix := ""
			if s.ReadOnly {
				suffix = " (ro)"
			}
			names = append(names, s.Name+suffix)
		}
		sort.Strings(names)
		fmt.Printf("   sharings: %s\n", strings.Join(names, "  "))
	}
	if found == 0 {
		fmt.Println("no server found")
	}
	return nil
}

func cmdConnect(e *env, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: connect HOST[:PORT]")
	}
	return e.connectAddr(args[0], false)
}

func cmdOpen(e *env, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: open SHARING")
	}
	return e.openSharing(args[0])
}

func cmdClose(e *env, _ []string) error {
	if err := e.requireSharing(); err != nil {
		return err
	}
	return describeErrorIf(e.client.CloseSharing())
}

func cmdInfo(e *env, _ []string) error {
	if err := e.requireConnection(); err != nil {
		return err
	}
	info, err := e.client.Info()
	if err != nil {
		return describeError(err)
	}

	fmt.Printf("name:     %s\n", info.Name)
	fmt.Printf("version:  %s\n", info.Version)
	fmt.Printf("port:     %d\n", info.Port)
	fmt.Printf("discover: %d\n", info.DiscoverPort)
	fmt.Printf("ssl:      %s\n", output.Bool(info.SSL))
	fmt.Printf("auth:     %s\n", output.Bool(info.Auth))
	fmt.Printf("rexec:    %s\n", output.Bool(info.Rexec))
	if info.CertFingerprint != "" {
		fmt.Printf("cert:     sha256:%s\n", info.CertFingerprint)
	}

	rows := make([][]string, 0, len(info.Sharings))
	for _, s := range info.Sharings {
		rows = append(rows, []string{s.Name, string(s.Kind), output.Bool(s.ReadOnly)})
	}
	output.PrintTable(os.Stdout, []string{"Sharing", "Kind", "Read-only"}, rows)
	return nil
}

func cmdPing(e *env, _ []string) error {
	if err := e.requireConnection(); err != nil {
		return err
	}
	start := time.Now()
	if _, err := e.client.Ping("ping"); err != nil {
		return describeError(err)
	}
	fmt.Printf("pong (%s)\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func cmdList(e *env, _ []string) error {
	if err := e.requireConnection(); err != nil {
		return err
	}
	sharings, err := e.client.List()
	if err != nil {
		return describeError(err)
	}
	rows := make([][]string, 0, len(sharings))
	for _, s := range sharings {
		rows = append(rows, []string{s.Name, string(s.Kind), output.Bool(s.ReadOnly)})
	}
	output.PrintTable(os.Stdout, []string{"Sharing", "Kind", "Read-only"}, rows)
	return nil
}

func cmdRpwd(e *env, _ []string) error {
	if err := e.requireSharing(); err != nil {
		return err
	}
	pwd, err := e.client.Rpwd()
	if err != nil {
		return describeError(err)
	}
	fmt.Println(pwd)
	return nil
}

func cmdRcd(e *env, args []string) error {
	if err := e.requireSharing(); err != nil {
		return err
	}
	dir := ""
	if len(args) > 0 {
		dir = args[0]
	}
	if _, err := e.client.Rcd(dir); err != nil {
		return describeError(err)
	}
	return nil
}

func cmdRls(e *env, args []string) error {
	if err := e.requireSharing(); err != nil {
		return err
	}
	flags, long, rest := parseLsFlags(args)
	dir := ""
	if len(rest) > 0 {
		dir = rest[0]
	}
	entries, err := e.client.Rls(dir, flags)
	if err != nil {
		return describeError(err)
	}
	for _, entry := range entries {
		name := entry.Name
		if entry.Kind == proto.KindDirectory {
			name += "/"
		}
		if !long {
			fmt.Println(name)
			continue
		}
		mtime := time.Unix(0, entry.Mtime).Format("Jan _2 15:04")
		fmt.Printf("%s %8s  %s  %s\n",
			os.FileMode(entry.Mode).String(), output.HumanSize(entry.Size), mtime, name)
	}
	return nil
}

func cmdRtree(e *env, args []string) error {
	if err := e.requireSharing(); err != nil {
		return err
	}
	depth := 0
	rest := args[:0:0]
	for i := 0; i < len(args); i++ {
		if args[i] == "-d" && i+1 < len(args) {
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				return fmt.Errorf("invalid depth %q", args[i+1])
			}
			depth = n
			i++
			continue
		}
		rest = append(rest, args[i])
	}
	dir := ""
	if len(rest) > 0 {
		dir = rest[0]
	}
	entries, err := e.client.Rtree(dir, depth, proto.LsFlags{})
	if err != nil {
		return describeError(err)
	}
	for _, entry := range entries {
		indent := strings.Repeat("  ", entry.Depth)
		name := entry.Name
		if entry.Kind == proto.KindDirectory {
			name += "/"
		}
		fmt.Printf("%s%s\n", indent, name)
	}
	return nil
}

func cmdRmkdir(e *env, args []string) error {
	if err := e.requireSharing(); err != nil {
		return err
	}
	if len(args) != 1 {
		return fmt.Errorf("usage: rmkdir DIR")
	}
	return describeErrorIf(e.client.Rmkdir(args[0]))
}

func cmdRmv(e *env, args []string) error {
	return batchOp(e, args, "rmv SOURCE... DEST", e2Rmv)
}

func cmdRcp(e *env, args []string) error {
	return batchOp(e, args, "rcp SOURCE... DEST", e2Rcp)
}

func e2Rmv(e *env, srcs []string, dest string) ([]proto.EntryOutcome, error) {
	return e.client.Rmv(srcs, dest)
}

func e2Rcp(e *env, srcs []string, dest string) ([]proto.EntryOutcome, error) {
	return e.client.Rcp(srcs, dest)
}

func batchOp(e *env, args []string, usage string, op func(*env, []string, string) ([]proto.EntryOutcome, error)) error {
	if err := e.requireSharing(); err != nil {
		return err
	}
	if len(args) < 2 {
		return fmt.Errorf("usage: %s", usage)
	}
	outcomes, err := op(e, args[:len(args)-1], args[len(args)-1])
	if err != nil {
		return describeError(err)
	}
	printOutcomes(outcomes)
	return nil
}

func cmdRrm(e *env, args []string) error {
	if err := e.requireSharing(); err != nil {
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("usage: rrm PATH...")
	}
	outcomes, err := e.client.Rrm(args)
	if err != nil {
		return describeError(err)
	}
	printOutcomes(outcomes)
	return nil
}

func printOutcomes(outcomes []proto.EntryOutcome) {
	for _, o := range outcomes {
		if !o.OK {
			fmt.Printf("%s: %v\n", o.Path, describeError(proto.NewError(o.Error, "")))
		}
	}
}

func cmdRfind(e *env, args []string) error {
	if err := e.requireSharing(); err != nil {
		return err
	}
	caseInsensitive := false
	rest := args[:0:0]
	for _, a := range args {
		if a == "-i" {
			caseInsensitive = true
			continue
		}
		rest = append(rest, a)
	}
	if len(rest) != 1 {
		return fmt.Errorf("usage: rfind [-i] PATTERN")
	}
	matches, err := e.client.Rfind(rest[0], caseInsensitive)
	if err != nil {
		return describeError(err)
	}
	for _, m := range matches {
		fmt.Println(m)
	}
	return nil
}

// overwritePrompt asks the operator about one existing file.
func overwritePrompt(entry proto.FileEntry, target string) bool {
	ok, err := prompt.Confirm(fmt.Sprintf("overwrite %s", entry.Path))
	if err != nil {
		return false
	}
	return ok
}

// progressPrinter reports each completed file.
func progressPrinter(entry proto.FileEntry, transferred int64) {
	if transferred == entry.Size {
		fmt.Printf("%s  %s\n", output.HumanSize(entry.Size), entry.Path)
	}
}

func cmdGet(e *env, args []string) error {
	if err := e.requireSharing(); err != nil {
		return err
	}
	policy, paths := parsePolicyFlags(args)

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	outcome, err := e.client.Get(paths, cwd, policy, overwritePrompt, progressPrinter)
	if err != nil {
		return describeError(err)
	}
	printTransferOutcome("get", outcome)
	return nil
}

func cmdPut(e *env, args []string) error {
	if err := e.requireSharing(); err != nil {
		return err
	}
	policy, paths := parsePolicyFlags(args)
	if len(paths) == 0 {
		return fmt.Errorf("usage: put [-y|-n|-N|-s] PATH...")
	}
	outcome, err := e.client.Put(paths, policy, overwritePrompt, progressPrinter)
	if err != nil {
		return describeError(err)
	}
	printTransferOutcome("put", outcome)
	return nil
}

func printTransferOutcome(op string, outcome proto.TransferOutcome) {
	fmt.Printf("%s: %d file(s), %s", op, outcome.FilesOK, output.HumanSize(outcome.BytesOK))
	if outcome.FilesSkipped > 0 {
		fmt.Printf(", %d skipped", outcome.FilesSkipped)
	}
	if outcome.FilesErr > 0 {
		fmt.Printf(", %d failed", outcome.FilesErr)
	}
	fmt.Println()
	for _, te := range outcome.Errors {
		fmt.Printf("  %s: %v\n", te.Path, describeError(proto.NewError(te.Error, "")))
	}
}

func cmdRexec(e *env, args []string) error {
	if err := e.requireConnection(); err != nil {
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("usage: rexec CMD...")
	}
	code, err := e.client.Rexec(strings.Join(args, " "), os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		return describeError(err)
	}
	if code != 0 {
		fmt.Printf("exit status %d\n", code)
	}
	return nil
}

func cmdRshell(e *env, _ []string) error {
	if err := e.requireConnection(); err != nil {
		return err
	}
	code, err := e.client.Rshell(os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		return describeError(err)
	}
	if code != 0 {
		fmt.Printf("exit status %d\n", code)
	}
	return nil
}

func cmdHelp(_ *env, _ []string) error {
	names := make([]string, 0, len(commandTable))
	for name := range commandTable {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd := commandTable[name]
		fmt.Printf("  %-28s %s\n", cmd.usage, cmd.help)
	}
	return nil
}

// describeErrorIf maps a non-nil error.
func describeErrorIf(err error) error {
	if err == nil {
		return nil
	}
	return describeError(err)
}

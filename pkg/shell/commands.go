package shell

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/crystal-mush/clawback/pkg/events"
	"github.com/crystal-mush/clawback/pkg/vfs"
)

const (
	ansiBlue    = "\x1b[34m"
	ansiGreen   = "\x1b[32m"
	ansiMagenta = "\x1b[35m"
	ansiYellow  = "\x1b[33m"
	ansiReset   = "\x1b[0m"
)

// InitCommands builds the command table.
func InitCommands() map[string]*Command {
	cmds := make(map[string]*Command)

	register := func(name string, handler CommandHandler) {
		cmds[name] = &Command{Name: name, Handler: handler}
	}

	// Navigation
	register("ls", cmdLs)
	register("cd", cmdCd)
	register("pwd", cmdPwd)
	register("find", cmdFind)

	// Reading
	register("cat", cmdCat)
	register("head", cmdHead)
	register("tail", cmdTail)
	register("grep", cmdGrep)
	register("wc", cmdWc)
	register("du", cmdDu)

	// Writing
	register("mkdir", cmdMkdir)
	register("touch", cmdTouch)
	register("rm", cmdRm)
	register("cp", cmdCp)
	register("mv", cmdMv)
	register("chmod", cmdChmod)
	register("echo", cmdEcho)

	// System
	register("clear", cmdClear)
	register("whoami", cmdWhoami)
	register("hostname", cmdHostname)
	register("date", cmdDate)
	register("uname", cmdUname)
	register("help", cmdHelp)

	// Network and tooling
	register("curl", cmdCurl)
	register("wget", cmdWget)
	register("git", cmdGit)
	register("npm", cmdNpm)
	register("python", cmdPython)
	register("node", cmdNode)

	return cmds
}

func commandNames(cmds map[string]*Command) []string {
	names := make([]string, 0, len(cmds))
	for n := range cmds {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// splitFlags separates dash-prefixed arguments from positional ones.
func splitFlags(args []string) (flags map[string]bool, positional []string) {
	flags = make(map[string]bool)
	for _, a := range args {
		if strings.HasPrefix(a, "-") && len(a) > 1 {
			flags[a] = true
		} else {
			positional = append(positional, a)
		}
	}
	return flags, positional
}

// hasShortFlag reports whether any short flag cluster contains c (-la has l and a).
func hasShortFlag(flags map[string]bool, c byte) bool {
	for f := range flags {
		if !strings.HasPrefix(f, "--") && strings.IndexByte(f[1:], c) >= 0 {
			return true
		}
	}
	return false
}

func formatBytes(n int) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%dB", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1fKB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1fMB", float64(n)/(1024*1024))
	}
}

func isScript(name string) bool {
	switch path.Ext(name) {
	case ".js", ".ts", ".py", ".sh":
		return true
	}
	return false
}

func cmdLs(sh *Shell, args []string, cwd string) Result {
	flags, positional := splitFlags(args)
	showHidden := hasShortFlag(flags, 'a')
	showLong := hasShortFlag(flags, 'l')
	target := "."
	if len(positional) > 0 {
		target = positional[0]
	}
	if !sh.fs.IsDir(target, cwd) {
		if inf, ok := sh.fs.GetNode(target, cwd); ok {
			return Result{Output: inf.Name}
		}
		return errorf(fmt.Sprintf("ls: cannot access '%s': No such file or directory", target))
	}
	items := sh.fs.ListDir(target, cwd, showHidden)

	lines := make([]string, 0, len(items))
	for _, item := range items {
		name := item.Name
		switch {
		case item.IsDir():
			name = ansiBlue + item.Name + "/" + ansiReset
		case showLong && isScript(item.Name):
			name = ansiGreen + item.Name + ansiReset
		}
		if showLong {
			typeChar := "-"
			if item.IsDir() {
				typeChar = "d"
			}
			lines = append(lines, fmt.Sprintf("%s%s  %8d  %s", typeChar, item.Permissions, item.Size, name))
		} else {
			lines = append(lines, name)
		}
	}
	if showLong {
		return Result{Output: strings.Join(lines, "\n")}
	}
	return Result{Output: strings.Join(lines, "  ")}
}

func cmdCd(sh *Shell, args []string, cwd string) Result {
	target := vfs.HomeDir
	if len(args) > 0 {
		target = args[0]
	}
	resolved := vfs.Resolve(target, cwd)
	if !sh.fs.Exists(resolved, "/") {
		return errorf("cd: no such file or directory: " + target)
	}
	if !sh.fs.IsDir(resolved, "/") {
		return errorf("cd: not a directory: " + target)
	}
	return Result{NewCwd: resolved}
}

func cmdPwd(_ *Shell, _ []string, cwd string) Result {
	return Result{Output: cwd}
}

func cmdCat(sh *Shell, args []string, cwd string) Result {
	if len(args) == 0 {
		return errorf("cat: missing file operand")
	}
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if sh.fs.IsDir(a, cwd) {
			return errorf("cat: " + a + ": Is a directory")
		}
		content, ok := sh.fs.ReadFile(a, cwd)
		if !ok {
			return errorf("cat: " + a + ": No such file or directory")
		}
		parts = append(parts, content)
	}
	return Result{Output: strings.Join(parts, "\n")}
}

// lineCount extracts -nN, -n N or -N from args. The default is 10.
func lineCount(args []string) (int, []string) {
	n := 10
	var rest []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-n" && i+1 < len(args):
			if v, err := strconv.Atoi(args[i+1]); err == nil {
				n = v
			}
			i++
		case strings.HasPrefix(a, "-n"):
			if v, err := strconv.Atoi(a[2:]); err == nil {
				n = v
			}
		case strings.HasPrefix(a, "-") && len(a) > 1:
			if v, err := strconv.Atoi(a[1:]); err == nil {
				n = v
			}
		default:
			rest = append(rest, a)
		}
	}
	if n < 0 {
		n = 0
	}
	return n, rest
}

func headTail(sh *Shell, name string, args []string, cwd string, tail bool) Result {
	n, files := lineCount(args)
	if len(files) == 0 {
		return errorf(name + ": missing file operand")
	}
	content, ok := sh.fs.ReadFile(files[0], cwd)
	if !ok {
		return errorf(name + ": " + files[0] + ": No such file or directory")
	}
	lines := strings.Split(content, "\n")
	if n > len(lines) {
		n = len(lines)
	}
	if tail {
		lines = lines[len(lines)-n:]
	} else {
		lines = lines[:n]
	}
	return Result{Output: strings.Join(lines, "\n")}
}

func cmdHead(sh *Shell, args []string, cwd string) Result {
	return headTail(sh, "head", args, cwd, false)
}

func cmdTail(sh *Shell, args []string, cwd string) Result {
	return headTail(sh, "tail", args, cwd, true)
}

func cmdMkdir(sh *Shell, args []string, cwd string) Result {
	flags, dirs := splitFlags(args)
	if len(dirs) == 0 {
		return errorf("mkdir: missing operand")
	}
	parents := flags["-p"]
	for _, d := range dirs {
		ok := false
		if parents {
			ok = sh.fs.MkdirAll(d, cwd)
		} else {
			ok = sh.fs.Mkdir(d, cwd)
		}
		if !ok {
			return errorf(fmt.Sprintf("mkdir: cannot create directory '%s': File exists or parent not found", d))
		}
	}
	return Result{}
}

func cmdTouch(sh *Shell, args []string, cwd string) Result {
	if len(args) == 0 {
		return errorf("touch: missing file operand")
	}
	for _, a := range args {
		if sh.fs.Exists(a, cwd) {
			continue
		}
		if !sh.fs.WriteFile(a, "", cwd) {
			return errorf(fmt.Sprintf("touch: cannot touch '%s': No such file or directory", a))
		}
	}
	return Result{}
}

func cmdRm(sh *Shell, args []string, cwd string) Result {
	flags, targets := splitFlags(args)
	recursive := hasShortFlag(flags, 'r') || hasShortFlag(flags, 'R')
	force := hasShortFlag(flags, 'f')
	if len(targets) == 0 {
		return errorf("rm: missing operand")
	}
	for _, t := range targets {
		if sh.fs.IsDir(t, cwd) && !recursive {
			if force {
				continue
			}
			return errorf(fmt.Sprintf("rm: cannot remove '%s': Is a directory", t))
		}
		if !sh.fs.Remove(t, cwd, recursive) && !force {
			return errorf(fmt.Sprintf("rm: cannot remove '%s': No such file or directory", t))
		}
	}
	return Result{SideEffects: SideEffects{Disk: -2}}
}

func cmdCp(sh *Shell, args []string, cwd string) Result {
	_, targets := splitFlags(args)
	if len(targets) < 2 {
		return errorf("cp: missing destination")
	}
	if !sh.fs.Copy(targets[0], targets[1], cwd) {
		return errorf(fmt.Sprintf("cp: cannot copy '%s': No such file or not a regular file", targets[0]))
	}
	return Result{SideEffects: SideEffects{Disk: 1}}
}

func cmdMv(sh *Shell, args []string, cwd string) Result {
	_, targets := splitFlags(args)
	if len(targets) < 2 {
		return errorf("mv: missing destination")
	}
	if !sh.fs.Move(targets[0], targets[1], cwd) {
		return errorf(fmt.Sprintf("mv: cannot move '%s' to '%s'", targets[0], targets[1]))
	}
	return Result{}
}

func cmdGrep(sh *Shell, args []string, cwd string) Result {
	flags, positional := splitFlags(args)
	if len(positional) == 0 {
		return errorf("grep: missing pattern")
	}
	pattern := positional[0]
	scope := cwd
	if len(positional) > 1 {
		scope = positional[1]
	}
	if !sh.fs.Exists(scope, cwd) {
		return errorf("grep: " + scope + ": No such file or directory")
	}
	matches := sh.fs.Grep(pattern, scope, cwd, hasShortFlag(flags, 'i'))
	if len(matches) == 0 {
		return Result{SideEffects: SideEffects{CPU: 3}}
	}
	lines := make([]string, 0, len(matches))
	for _, m := range matches {
		display := strings.TrimPrefix(m.Path, vfs.HomeDir+"/")
		lines = append(lines, fmt.Sprintf("%s%s%s:%s%d%s: %s", ansiMagenta, display, ansiReset, ansiYellow, m.Line, ansiReset, m.Text))
	}
	return Result{Output: strings.Join(lines, "\n"), SideEffects: SideEffects{CPU: 3}}
}

func cmdEcho(_ *Shell, args []string, _ string) Result {
	return Result{Output: strings.Join(args, " ")}
}

func cmdClear(sh *Shell, _ []string, _ string) Result {
	sh.emit(events.Event{Type: events.EvTerminalClear})
	return Result{}
}

func cmdWhoami(_ *Shell, _ []string, _ string) Result {
	return Result{Output: "clawback-ai"}
}

func cmdHostname(_ *Shell, _ []string, _ string) Result {
	return Result{Output: "claw-workstation"}
}

func cmdDate(sh *Shell, _ []string, _ string) Result {
	c := sh.clock()
	return Result{Output: fmt.Sprintf("%s, Day %d, %s", c.Weekday(), c.Day, c.String())}
}

func cmdUname(_ *Shell, args []string, _ string) Result {
	flags, _ := splitFlags(args)
	if hasShortFlag(flags, 'a') {
		return Result{Output: "Claws 6.1.0 claw-workstation x86_64 GNU/Linux"}
	}
	return Result{Output: "Claws"}
}

func cmdWc(sh *Shell, args []string, cwd string) Result {
	_, positional := splitFlags(args)
	if len(positional) == 0 {
		return errorf("wc: missing operand")
	}
	target := positional[0]
	content, ok := sh.fs.ReadFile(target, cwd)
	if !ok {
		return errorf("wc: " + target + ": No such file")
	}
	lines := len(strings.Split(content, "\n"))
	words := len(strings.Fields(content))
	return Result{Output: fmt.Sprintf("  %d  %d  %d %s", lines, words, len(content), target)}
}

func cmdDu(sh *Shell, args []string, cwd string) Result {
	_, positional := splitFlags(args)
	target := cwd
	if len(positional) > 0 {
		target = positional[0]
	}
	total, ok := sh.fs.DiskUsage(target, cwd)
	if !ok {
		return errorf("du: " + target + ": No such file or directory")
	}
	return Result{Output: formatBytes(total) + "\t" + target}
}

func cmdChmod(sh *Shell, args []string, cwd string) Result {
	_, positional := splitFlags(args)
	if len(positional) < 2 {
		return errorf("chmod: missing operand")
	}
	mode, target := positional[0], positional[1]
	if !sh.fs.Exists(target, cwd) {
		return errorf("chmod: " + target + ": No such file or directory")
	}
	if !sh.fs.Chmod(mode, target, cwd) {
		return errorf("chmod: invalid mode: '" + mode + "'")
	}
	return Result{}
}

func cmdFind(sh *Shell, args []string, cwd string) Result {
	start := cwd
	var pattern string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-name" && i+1 < len(args):
			pattern = args[i+1]
			i++
		case !strings.HasPrefix(args[i], "-"):
			start = args[i]
		}
	}
	tree, ok := sh.fs.Walk(start, cwd)
	if !ok {
		return errorf(fmt.Sprintf("find: '%s': No such file or directory", start))
	}
	var re *regexp.Regexp
	if pattern != "" {
		expr := "^" + strings.NewReplacer(`\*`, ".*", `\?`, ".").Replace(regexp.QuoteMeta(pattern)) + "$"
		re = regexp.MustCompile(expr)
	}
	var out []string
	var visit func(i vfs.Info)
	visit = func(i vfs.Info) {
		if re == nil || re.MatchString(i.Name) {
			out = append(out, i.Path)
		}
		for _, c := range i.Children {
			visit(c)
		}
	}
	visit(tree)
	return Result{Output: strings.Join(out, "\n")}
}

func cmdCurl(_ *Shell, args []string, _ string) Result {
	_, positional := splitFlags(args)
	if len(positional) == 0 {
		return errorf("curl: missing URL")
	}
	url := positional[0]
	return Result{
		Output: "  % Total    % Received\n  100  1024  100  1024    0     0   2048      0 --:--:-- --:--:-- --:--:--  2048\n" +
			fmt.Sprintf(`{"status": "ok", "message": "simulated response from %s"}`, url),
		SideEffects: SideEffects{Network: 10, CPU: 2},
	}
}

func cmdWget(sh *Shell, args []string, cwd string) Result {
	_, positional := splitFlags(args)
	if len(positional) == 0 {
		return errorf("wget: missing URL")
	}
	url := positional[0]
	name := path.Base(strings.TrimRight(url, "/"))
	if name == "" || name == "." || strings.Contains(name, ":") {
		name = "downloaded_file"
	}
	sh.fs.WriteFile(name, "simulated download from "+url, cwd)
	return Result{
		Output: fmt.Sprintf("--  %s\nResolving... connected.\nHTTP request sent, awaiting response... 200 OK\nSaving to: '%s'\n%s  100%%[======>]  1.2K  --.-KB/s  in 0s\n\n'%s' saved [1234]", url, name, name, name),
		SideEffects: SideEffects{Network: 15, Disk: 1},
	}
}

func cmdGit(_ *Shell, args []string, _ string) Result {
	sub := ""
	if len(args) > 0 {
		sub = args[0]
	}
	switch sub {
	case "status":
		return Result{Output: "On branch main\nnothing to commit, working tree clean"}
	case "log":
		return Result{Output: "commit a1b2c3d (HEAD -> main)\nAuthor: Dev Dan <dan@company.com>\n\n    fix: resolve auth token refresh issue\n\n" +
			"commit e4f5a6b\nAuthor: Raj <raj@company.com>\n\n    feat: add monitoring dashboard\n\n" +
			"commit 97c8d1e\nAuthor: Dev Dan <dan@company.com>\n\n    refactor: migrate to new API client"}
	case "diff":
		return Result{Output: "No changes detected."}
	case "branch":
		return Result{Output: "* main\n  develop\n  feature/auth-refactor"}
	default:
		return Result{Output: fmt.Sprintf("git: '%s' requires additional arguments", sub)}
	}
}

func cmdNpm(_ *Shell, args []string, _ string) Result {
	sub := ""
	if len(args) > 0 {
		sub = args[0]
	}
	switch sub {
	case "install", "i":
		return Result{
			Output:      "added 127 packages in 3.2s\n\n12 packages are looking for funding\n  run `npm fund` for details",
			SideEffects: SideEffects{CPU: 15, Network: 20, Disk: 5},
		}
	case "run":
		script := "start"
		if len(args) > 1 {
			script = args[1]
		}
		return Result{Output: "> " + script + "\n\nServer running on http://localhost:3000", SideEffects: SideEffects{CPU: 10}}
	case "test":
		return Result{
			Output:      "> test\n\nPASS  src/app.test.js\n  ✓ renders homepage (12ms)\n  ✓ handles login (23ms)\n  ✓ displays user data (8ms)\n\nTests: 3 passed, 3 total",
			SideEffects: SideEffects{CPU: 12},
		}
	default:
		return Result{Output: fmt.Sprintf("npm: unknown command '%s'", sub)}
	}
}

func cmdPython(sh *Shell, args []string, cwd string) Result {
	if len(args) == 0 {
		return Result{Output: "Python 3.12.0\n>>> (interactive mode not supported)", SideEffects: SideEffects{CPU: 5}}
	}
	if !sh.fs.Exists(args[0], cwd) {
		return errorf(fmt.Sprintf("python: can't open file '%s': No such file", args[0]))
	}
	return Result{
		Output:      "Running " + args[0] + "...\n[Simulated execution output]\nProcess completed successfully.",
		SideEffects: SideEffects{CPU: 8, Memory: 5},
	}
}

func cmdNode(sh *Shell, args []string, cwd string) Result {
	if len(args) == 0 {
		return Result{Output: "Welcome to Node.js v20.0.0\n> (interactive mode not supported)"}
	}
	if !sh.fs.Exists(args[0], cwd) {
		return errorf(fmt.Sprintf("node: cannot find module '%s'", args[0]))
	}
	return Result{
		Output:      "Running " + args[0] + "...\n[Simulated execution output]\nProcess completed successfully.",
		SideEffects: SideEffects{CPU: 8, Memory: 5},
	}
}

func cmdHelp(sh *Shell, _ []string, _ string) Result {
	names := sh.Commands()
	var b strings.Builder
	b.WriteString("Available commands:")
	for i, n := range names {
		if i%10 == 0 {
			b.WriteString("\n  ")
		} else {
			b.WriteString(", ")
		}
		b.WriteString(n)
	}
	return Result{Output: b.String()}
}

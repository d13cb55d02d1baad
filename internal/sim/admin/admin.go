// Package admin is the in-game administrative command tree: reload, remove, give, help.
// Each invocation builds a fresh cobra tree bound to the sender, so commands never share
// flag or output state.
package admin

import (
	"errors"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"slotkeeper.ai/internal/sim/host"
	"slotkeeper.ai/internal/sim/messages"
	"slotkeeper.ai/internal/sim/policy"
	"slotkeeper.ai/internal/sim/reconcile"
)

var (
	ErrPermission = errors.New("permission denied")
	ErrUsage      = errors.New("usage")
	ErrNotFound   = errors.New("not found")
)

const DefaultPermission = "slotkeeper.admin"

// Sender is whoever typed the command: an actor or the console.
type Sender interface {
	Name() string
	SendMessage(msg string)
	HasPermission(perm string) bool
}

// ConsoleSender is the elevated local operator. Replies go to W.
type ConsoleSender struct {
	W io.Writer
}

func (ConsoleSender) Name() string              { return "CONSOLE" }
func (ConsoleSender) HasPermission(string) bool { return true }
func (c ConsoleSender) SendMessage(msg string) {
	if c.W != nil {
		_, _ = io.WriteString(c.W, msg+"\n")
	}
}

// Enforcer is the slice of the reconciliation engine the commands drive.
type Enforcer interface {
	ApplyAll(a host.Actor) reconcile.Result
	StripAll(a host.Actor) int
	StripOne(a host.Actor, id string) (int, error)
}

type Config struct {
	Reload     func() error
	Directory  host.Directory
	Enforcer   Enforcer
	Policies   policy.Source
	Messages   *messages.Source
	Permission string
	Logger     *zap.Logger
}

type Surface struct {
	cfg Config
	log *zap.Logger
}

func New(cfg Config) *Surface {
	if cfg.Permission == "" {
		cfg.Permission = DefaultPermission
	}
	if cfg.Messages == nil {
		cfg.Messages = messages.NewSource(nil)
	}
	if cfg.Policies == nil {
		cfg.Policies = policy.Static{Set: policy.Empty()}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Surface{cfg: cfg, log: log}
}

// Execute runs one command line (without the leading command name).
func (s *Surface) Execute(sender Sender, args []string) error {
	if len(args) > 0 {
		args = append([]string{strings.ToLower(args[0])}, args[1:]...)
	} else {
		args = []string{}
	}
	root := s.newRoot(sender)
	root.SetArgs(args)
	return root.Execute()
}

// Complete returns suggestions for the last element of args.
func (s *Surface) Complete(sender Sender, args []string) []string {
	if !sender.HasPermission(s.cfg.Permission) || len(args) == 0 {
		return nil
	}
	root := s.newRoot(sender)
	toComplete := args[len(args)-1]
	if len(args) == 1 {
		var names []string
		for _, c := range root.Commands() {
			names = append(names, c.Name())
		}
		return filterPrefix(names, toComplete)
	}
	cmd, _, err := root.Find([]string{strings.ToLower(args[0])})
	if err != nil || cmd == root || cmd.ValidArgsFunction == nil {
		return nil
	}
	out, _ := cmd.ValidArgsFunction(cmd, args[1:len(args)-1], toComplete)
	return out
}

func (s *Surface) newRoot(sender Sender) *cobra.Command {
	out := senderWriter{sender}
	root := &cobra.Command{
		Use:           "slotkeeper",
		Short:         "Fixed-slot item administration",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !sender.HasPermission(s.cfg.Permission) {
				sender.SendMessage(s.msg().Prefixed("command.no-permission"))
				return ErrPermission
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				sender.SendMessage(s.msg().Prefixed("command.unknown"))
			}
			s.sendHelp(sender)
			return nil
		},
	}
	root.SetOut(out)
	root.SetErr(out)
	root.CompletionOptions.DisableDefaultCmd = true
	root.AddCommand(s.reloadCmd(sender), s.removeCmd(sender), s.giveCmd(sender))
	root.SetHelpCommand(&cobra.Command{
		Use:   "help",
		Short: "Show help",
		RunE: func(cmd *cobra.Command, args []string) error {
			s.sendHelp(sender)
			return nil
		},
	})
	root.InitDefaultHelpCmd()
	return root
}

func (s *Surface) reloadCmd(sender Sender) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload policies and messages",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.cfg.Reload == nil {
				return nil
			}
			if err := s.cfg.Reload(); err != nil {
				s.log.Error("reload failed", zap.String("by", sender.Name()), zap.Error(err))
				sender.SendMessage(s.msg().Prefixed("command.reload-failed", "error", err.Error()))
				return err
			}
			sender.SendMessage(s.msg().Prefixed("command.reload-success"))
			return nil
		},
	}
}

func (s *Surface) removeCmd(sender Sender) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <player> [item]",
		Short: "Strip fixed items from a player",
		Args:  cobra.ArbitraryArgs,
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			switch len(args) {
			case 0:
				return filterPrefix(s.onlineNames(), toComplete), cobra.ShellCompDirectiveNoFileComp
			case 1:
				return filterPrefix(s.cfg.Policies.Current().IDs(), toComplete), cobra.ShellCompDirectiveNoFileComp
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				sender.SendMessage(s.msg().Prefixed("command.remove-usage"))
				return ErrUsage
			}
			target, err := s.lookup(sender, args[0])
			if err != nil {
				return err
			}
			if len(args) >= 2 {
				id := args[1]
				if _, ok := s.cfg.Policies.Current().Get(id); !ok {
					sender.SendMessage(s.msg().Prefixed("command.item-not-found", "item", id))
					return ErrNotFound
				}
				if _, err := s.cfg.Enforcer.StripOne(target, id); err != nil {
					return err
				}
				sender.SendMessage(s.msg().Prefixed("command.remove-item-success", "player", target.Name(), "item", id))
				return nil
			}
			s.cfg.Enforcer.StripAll(target)
			sender.SendMessage(s.msg().Prefixed("command.remove-all-success", "player", target.Name()))
			return nil
		},
	}
}

func (s *Surface) giveCmd(sender Sender) *cobra.Command {
	return &cobra.Command{
		Use:   "give <player>",
		Short: "Hand out every fixed item",
		Args:  cobra.ArbitraryArgs,
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 0 {
				return filterPrefix(s.onlineNames(), toComplete), cobra.ShellCompDirectiveNoFileComp
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				sender.SendMessage(s.msg().Prefixed("command.give-usage"))
				return ErrUsage
			}
			target, err := s.lookup(sender, args[0])
			if err != nil {
				return err
			}
			if !s.cfg.Policies.Current().ZoneEnabled(target.Zone()) {
				sender.SendMessage(s.msg().Prefixed("command.world-not-enabled", "world", target.Zone()))
				return nil
			}
			s.cfg.Enforcer.ApplyAll(target)
			sender.SendMessage(s.msg().Prefixed("command.give-success", "player", target.Name()))
			return nil
		},
	}
}

func (s *Surface) lookup(sender Sender, name string) (host.Actor, error) {
	if s.cfg.Directory != nil {
		if a, ok := s.cfg.Directory.Lookup(name); ok && a.Online() {
			return a, nil
		}
	}
	sender.SendMessage(s.msg().Prefixed("command.player-not-found", "player", name))
	return nil, ErrNotFound
}

func (s *Surface) sendHelp(sender Sender) {
	m := s.msg()
	for _, line := range []string{
		"",
		m.Get("help.header"),
		"",
		m.Get("help.reload"),
		m.Get("help.remove"),
		m.Get("help.give"),
		m.Get("help.help"),
		"",
		m.Get("help.footer"),
	} {
		sender.SendMessage(line)
	}
}

func (s *Surface) msg() *messages.Catalog { return s.cfg.Messages.Current() }

func (s *Surface) onlineNames() []string {
	if s.cfg.Directory == nil {
		return nil
	}
	var names []string
	for _, a := range s.cfg.Directory.Active() {
		if a.Online() {
			names = append(names, a.Name())
		}
	}
	sort.Strings(names)
	return names
}

func filterPrefix(all []string, prefix string) []string {
	if prefix == "" {
		return all
	}
	p := strings.ToLower(prefix)
	var out []string
	for _, s := range all {
		if strings.HasPrefix(strings.ToLower(s), p) {
			out = append(out, s)
		}
	}
	return out
}

// senderWriter routes cobra's own output (flag errors, usage) to the sender line by line.
type senderWriter struct{ s Sender }

func (w senderWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			w.s.SendMessage(line)
		}
	}
	return len(p), nil
}

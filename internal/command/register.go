package command

// NewDefaultRegistry returns a Registry with every built-in command
// registered, matching the fixed command set the wire protocol
// documents.
func NewDefaultRegistry() *Registry {
	reg := NewRegistry()
	reg.Register(&helpCommand{reg: reg})
	reg.Register(ListCommand{})
	reg.Register(BlockCommand{})
	reg.Register(UnblockCommand{})
	reg.Register(UnblockAllCommand{})
	reg.Register(StatusCommand{})
	reg.Register(RotateCommand{})
	reg.Register(ReloadCommand{})
	reg.Register(ClearCommand{})
	reg.Register(WhitelistCommand{})
	reg.Register(ExportLogsCommand{})
	reg.Register(ShowLogsCommand{})
	reg.Register(InfoCommand{})
	reg.Register(ExitCommand{})
	reg.Register(IPHistoryCommand{})
	reg.Register(IPTagCommand{})
	reg.Register(IPCommentCommand{})
	reg.Register(MonitorCommand{})
	return reg
}

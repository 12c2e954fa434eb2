package main

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	EnvFile    string
}

type SchemaFlags struct {
	Dialect string
}

type SessionsFlags struct {
	Limit int
	JSON  bool
}

type ShowFlags struct {
	JSON bool
	Logs bool
}

type ServeFlags struct {
	Listen      string
	BasePath    string
	NonBlocking bool
}

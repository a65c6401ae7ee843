// Package palette holds the commands shown in the host's command palette.
//
// Built-in commands are fixed when the registry is created. Extensions add
// and remove their own commands at runtime; an extension command that reuses
// a built-in name shadows it for lookups.
//
// # Usage
//
//	reg := palette.NewRegistry(
//	    &palette.Command{Name: "Save File", Description: "Write the buffer", Handler: save},
//	)
//
//	reg.Register(&palette.Command{
//	    Name:     "Format: Document",
//	    Action:   "format_document",
//	    Contexts: []string{"normal"},
//	    Source:   "formatter",
//	})
//
//	for _, m := range reg.Filter("fmt", "normal") {
//	    fmt.Println(m.Command.Name, m.Enabled)
//	}
//
// # Thread Safety
//
// All registry operations are safe for concurrent use.
package palette

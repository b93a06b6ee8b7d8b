/*
Package dsl provides a Go DSL for programmatically constructing Parley dialogue graphs.

It allows developers to define dialogue flows using a type-safe, fluent builder pattern
instead of relying on external YAML, HCL or Markdown files. This is particularly useful
for dynamic graph generation, unit testing, and leveraging IDE autocompletion.

Example usage:

	b := dsl.New("tavern")

	b.Add("start").Start().Go("greet")

	b.Add("greet").
		Line("barkeep", "tavern.greet").
		Go("ask")

	b.Add("ask").
		Branch("tavern.ask").
		Go("rumors", dsl.Label("Any rumors?"), dsl.When("only_first_time", nil)).
		Go("bye", dsl.Label("Goodbye"))

	b.Add("rumors").Line("barkeep", "tavern.rumors").Go("ask")
	b.Add("bye").End()

	g, report, err := b.Publish()
*/
package dsl

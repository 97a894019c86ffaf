/*
Package cli provides the helpers shared by the conduit commands.

Output Formatting:

Command results are printed as text tables, JSON or CSV:

	table := &cli.Table{Headers: []string{"PROVIDER", "READY"}}
	table.Append("openai", "yes")
	if err := cli.NewFormatter(cli.FormatJSON).FormatTo(os.Stdout, table); err != nil {
		return err
	}

Styling:

A Styler colors status words when writing to a terminal and leaves them
plain otherwise (pipes, NO_COLOR):

	st := cli.NewStyler(os.Stdout)
	fmt.Println(st.Success("✓"), "key saved")

Secrets:

ReadSecret reads an API key without echo when stdin is a terminal.

Progress Reporting:

	progress := cli.NewProgressReporter(os.Stderr, "events")
	progress.Start(int64(len(events)))
	for i := range events {
		progress.Update(int64(i + 1))
	}
	progress.Finish()

Signal Handling:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()
*/
package cli

package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/user/edgegate/internal/model"
)

var (
	execSSH      sshFlags
	execCommands []string
	execPaging   bool
)

var execCmd = &cobra.Command{
	Use:   "exec <host>",
	Short: "Run commands on a router over SSH",
	Long: `Run one or more commands on a router over SSH and print the cleaned
output of each.

The password is read from --password or EDGEGATE_DEVICE_PASSWORD.

Examples:
  edgegate exec 10.0.0.1 -u admin -c "show version"
  edgegate exec 10.0.0.1 -u admin -c "show ip route" -c "show interfaces" --timeout 60s`,
	Args: cobra.ExactArgs(1),
	RunE: runExec,
}

func init() {
	execSSH.bind(execCmd)
	f := execCmd.Flags()
	f.StringArrayVarP(&execCommands, "command", "c", nil, "command to run (repeatable)")
	f.BoolVar(&execPaging, "disable-paging", true, "disable terminal paging before running commands")
	execCmd.MarkFlagRequired("command")
}

func runExec(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	req := execSSH.request(args[0])
	req.Commands = execCommands
	req.DisablePaging = execPaging

	res, runErr := a.executor.Execute(ctx, req)
	a.record(res, runErr)
	return printCommandResult(res, runErr, "command execution failed")
}

// printCommandResult prints a device run and turns a failed run into
// failMsg.
func printCommandResult(res *model.CommandResult, runErr error, failMsg string) error {
	if jsonOut {
		if err := printJSON(res); err != nil {
			return err
		}
		return runErr
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("%s (%d ms)", res.Host, res.ElapsedMs)))
	keys := make([]string, 0, len(res.Fields))
	for k := range res.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		printField(k, res.Fields[k])
	}
	for _, out := range res.Outputs {
		fmt.Println()
		fmt.Println(headerStyle.Render("# " + out.Command))
		fmt.Println(out.Output)
	}
	if runErr != nil {
		fmt.Println()
		fmt.Println(badStyle.Render(fmt.Sprintf("%s error: %s", res.ErrorKind, res.Error)))
		return errors.New(failMsg)
	}
	return nil
}

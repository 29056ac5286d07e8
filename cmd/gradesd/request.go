package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gradebook-server-go/client"
	"gradebook-server-go/config"
	"gradebook-server-go/models"
)

type requestOptions struct {
	addr      string
	timeout   time.Duration
	action    string
	id        string
	name      string
	course    string
	grade     string
	newCourse string
}

func newRequestCommand() *cobra.Command {
	var opts requestOptions
	cmd := &cobra.Command{
		Use:   "request",
		Short: "send one request to a running gradesd and print the reply",
		Example: `
  gradesd request --action agregar --id S1 --nombre Ana --materia MAT101 --calificacion 18.5
  gradesd request --action listar
  gradesd request --action actualizar --id S1 --materia MAT101 --calificacion 20 --nueva-materia FIS101
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			req := buildRequest(opts)

			c, err := client.Dial(cmd.Context(), opts.addr, opts.timeout)
			if err != nil {
				return err
			}
			defer c.Close()

			reply, err := c.Do(cmd.Context(), req)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(reply, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if !reply.OK() {
				return fmt.Errorf("request failed: %s", reply.Message)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.addr, "addr", config.DefaultListen, "record server address")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "round trip timeout")
	flags.StringVar(&opts.action, "action", "listar", "agregar, listar, buscar, actualizar or eliminar")
	flags.StringVar(&opts.id, "id", "", "student ID")
	flags.StringVar(&opts.name, "nombre", "", "student name")
	flags.StringVar(&opts.course, "materia", "", "course code (NRC)")
	flags.StringVar(&opts.grade, "calificacion", "", "grade")
	flags.StringVar(&opts.newCourse, "nueva-materia", "", "new course code for actualizar")
	return cmd
}

func buildRequest(opts requestOptions) models.Request {
	req := models.Request{Action: opts.action}
	data := models.GradeData{
		ID:            models.Text(opts.id),
		Name:          models.Text(opts.name),
		CourseCode:    models.Text(opts.course),
		Grade:         models.Text(opts.grade),
		NewCourseCode: models.Text(opts.newCourse),
	}
	if data != (models.GradeData{}) {
		req.Data = &data
	}
	return req
}

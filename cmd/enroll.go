package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	service "github.com/okian/rollcall/internal/app"
	"github.com/okian/rollcall/internal/domain/model"
	"github.com/okian/rollcall/internal/export"
)

type enrollOptions struct {
	company  string
	employee string
	name     string
	role     string
	camera   string
	frames   int
	interval time.Duration
}

func newEnrollCmd(root *rootOptions) *cobra.Command {
	o := &enrollOptions{}
	cmd := &cobra.Command{
		Use:   "enroll [PHOTO...]",
		Short: "Enroll an employee from photos or the camera",
		Long: `Enroll an employee from photo files, or from frames captured by a camera
when --camera is set. Photos without a detectable face are skipped.

Examples:
  # Enroll from three photos
  rollcall enroll --company c1 --name Ana --role nurse ana1.jpg ana2.jpg ana3.jpg

  # Capture five frames from the front camera
  rollcall enroll --company c1 --name Ana --camera front --frames 5

  # Add references to an existing employee
  rollcall enroll --company c1 --employee e1 ana4.jpg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, root, args)
		},
	}
	cmd.Flags().StringVar(&o.company, "company", "", "company id (required)")
	cmd.Flags().StringVar(&o.employee, "employee", "", "append to this existing employee instead of creating one")
	cmd.Flags().StringVar(&o.name, "name", "", "employee name")
	cmd.Flags().StringVar(&o.role, "role", "", "employee role")
	cmd.Flags().StringVar(&o.camera, "camera", "", "capture from this camera facing (front or back)")
	cmd.Flags().IntVar(&o.frames, "frames", 5, "frames to capture with --camera")
	cmd.Flags().DurationVar(&o.interval, "interval", 500*time.Millisecond, "delay between captured frames")
	_ = cmd.MarkFlagRequired("company")
	return cmd
}

func (o *enrollOptions) validate(args []string) error {
	switch {
	case o.employee == "" && o.name == "":
		return errors.New("--name is required when creating an employee")
	case o.camera == "" && len(args) == 0:
		return errors.New("give photo files or --camera")
	case o.camera != "" && len(args) > 0:
		return errors.New("photo files and --camera are mutually exclusive")
	case o.camera != "" && o.frames <= 0:
		return errors.New("--frames must be positive")
	}
	return nil
}

func (o *enrollOptions) run(cmd *cobra.Command, root *rootOptions, args []string) error {
	if err := o.validate(args); err != nil {
		return err
	}
	ctx := cmd.Context()
	svc, err := root.openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Stop()

	var frames []model.Frame
	if o.camera != "" {
		frames, err = o.capture(cmd, svc)
	} else {
		frames, err = readPhotos(cmd, args)
	}
	if err != nil {
		return err
	}

	var res service.EnrollResult
	if o.employee != "" {
		res, err = svc.AppendEmbeddings(ctx, model.CompanyID(o.company), model.EmployeeID(o.employee), frames)
	} else {
		res, err = svc.Enroll(ctx, model.EmployeeDraft{
			CompanyID: model.CompanyID(o.company),
			Name:      o.name,
			Role:      o.role,
		}, frames)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "captured %d, skipped %d\n", res.Captured, res.Skipped)
	return export.Employees(out, []model.Employee{res.Employee})
}

func (o *enrollOptions) capture(cmd *cobra.Command, svc *service.Service) ([]model.Frame, error) {
	bar := newBar(cmd, o.frames, "Capturing "+o.camera)
	frames, err := svc.CaptureFrames(cmd.Context(), model.Facing(o.camera), o.frames, o.interval, func(int) {
		_ = bar.Add(1)
	})
	_ = bar.Finish()
	return frames, err
}

func readPhotos(cmd *cobra.Command, paths []string) ([]model.Frame, error) {
	bar := newBar(cmd, len(paths), "Reading photos")
	defer func() { _ = bar.Finish() }()

	frames := make([]model.Frame, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(filepath.Clean(p))
		if err != nil {
			return nil, fmt.Errorf("read photo: %w", err)
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat photo: %w", err)
		}
		frames = append(frames, model.Frame{
			Data:        data,
			ContentType: http.DetectContentType(data),
			CapturedAt:  info.ModTime(),
		})
		_ = bar.Add(1)
	}
	return frames, nil
}

func newBar(cmd *cobra.Command, n int, desc string) *progressbar.ProgressBar {
	return progressbar.NewOptions(n,
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)
}

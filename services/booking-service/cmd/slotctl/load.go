package main

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/slotwise/slotwise/services/booking-service/internal/model"
	"github.com/spf13/cobra"
)

// scenario is the file format accepted by "slotctl load".
type scenario struct {
	Organization model.Organization    `json:"organization"`
	Employees    []model.Employee      `json:"employees"`
	Appointments []scenarioAppointment `json:"appointments"`
}

type scenarioAppointment struct {
	ID         string    `json:"id"`
	ServiceID  string    `json:"service_id"`
	EmployeeID string    `json:"employee_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Status     string    `json:"status"`
	ClientName string    `json:"client_name"`
}

func readScenario(path string) (scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return scenario{}, err
	}
	var sc scenario
	if err := json.Unmarshal(raw, &sc); err != nil {
		return scenario{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if sc.Organization.ID == "" {
		return scenario{}, fmt.Errorf("%s: organization.id is required", path)
	}
	if err := sc.Organization.Schedule.Validate(); err != nil {
		return scenario{}, fmt.Errorf("%s: organization schedule: %w", path, err)
	}
	for _, e := range sc.Employees {
		if err := e.Schedule.Validate(); err != nil {
			return scenario{}, fmt.Errorf("%s: employee %s schedule: %w", path, e.ID, err)
		}
	}
	return sc, nil
}

func newLoadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "load <scenario.json>",
		Short: "Import an organization, its employees and appointments into the database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := readScenario(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			org := sc.Organization
			if err := store.PutOrganization(ctx, org); err != nil {
				return fmt.Errorf("store organization: %w", err)
			}
			for i, e := range sc.Employees {
				if e.OrganizationID == "" {
					e.OrganizationID = org.ID
				}
				if err := store.PutEmployee(ctx, e, i); err != nil {
					return fmt.Errorf("store employee %s: %w", e.ID, err)
				}
			}
			for _, a := range sc.Appointments {
				appt := model.Appointment{
					ID:             a.ID,
					OrganizationID: org.ID,
					ServiceID:      a.ServiceID,
					EmployeeID:     a.EmployeeID,
					ClientName:     a.ClientName,
					StartTime:      a.Start,
					EndTime:        a.End,
					Status:         a.Status,
					CreatedAt:      opts.now(),
				}
				if appt.ID == "" {
					appt.ID = uuid.NewString()
				}
				if appt.Status == "" {
					appt.Status = model.StatusBooked
				}
				if err := store.PutAppointment(ctx, appt); err != nil {
					return fmt.Errorf("store appointment %s: %w", appt.ID, err)
				}
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "loaded %s: %d services, %d employees, %d appointments\n",
				org.ID, len(org.Services), len(sc.Employees), len(sc.Appointments))
			return err
		},
	}
}

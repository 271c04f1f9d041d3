// Command slotctl prints schedule capacity and bookings straight from the
// test centre database for desk staff and operators.
//
//	slotctl availability -date 2024-06-03
//	slotctl appointments -date 2024-06-03 [-status scheduled]
//	slotctl templates
//	slotctl holidays
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"

	"github.com/example/testcentre/internal/application"
	"github.com/example/testcentre/internal/config"
	"github.com/example/testcentre/internal/logging"
	"github.com/example/testcentre/internal/persistence/sqlite"
	"github.com/example/testcentre/internal/persistence/sqlite/migration"
)

var errUsage = errors.New("usage: slotctl <availability|appointments|templates|holidays> [flags]")

// operator is the principal slotctl acts as; it only reads.
var operator = application.Principal{ID: "slotctl", Role: application.RoleAdministrator}

type services struct {
	calendar     *application.CalendarService
	appointments *application.AppointmentService
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		color.Red("configuration: %v", err)
		os.Exit(1)
	}
	logger := logging.NewJSON(os.Stderr, slog.LevelWarn)

	storage, err := sqlite.Open(migration.DefaultSQLiteConfig(cfg.SQLiteDSN), sqlite.DefaultRetryConfig(), logger)
	if err != nil {
		color.Red("open storage: %v", err)
		os.Exit(1)
	}
	defer storage.Close()
	if err := storage.Migrate(ctx); err != nil {
		color.Red("migrate storage: %v", err)
		os.Exit(1)
	}

	policy := application.Policy{Location: cfg.Location, CriticalMinRatio: cfg.CriticalMinRatio, MaxResits: cfg.MaxResits}
	calendarService := application.NewCalendarServiceWithLogger(storage.Calendar, storage.Appointments, time.Now, logger)
	svc := services{
		calendar:     calendarService,
		appointments: application.NewAppointmentServiceWithLogger(calendarService, storage.Appointments, storage.Configs, uuid.NewString, time.Now, policy, logger),
	}

	if err := runCommand(ctx, svc, os.Args[1:], os.Stdout); err != nil {
		color.Red("%v", err)
		os.Exit(2)
	}
}

func runCommand(ctx context.Context, svc services, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	date := fs.String("date", time.Now().Format("2006-01-02"), "date as YYYY-MM-DD")
	status := fs.String("status", "", "appointment status filter")
	if err := fs.Parse(args[1:]); err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	switch args[0] {
	case "availability":
		return printAvailability(ctx, svc.calendar, *date, out)
	case "appointments":
		return printAppointments(ctx, svc.appointments, *date, *status, out)
	case "templates":
		return printTemplates(ctx, svc.calendar, out)
	case "holidays":
		return printHolidays(ctx, svc.calendar, out)
	default:
		return errUsage
	}
}

func printAvailability(ctx context.Context, calendar *application.CalendarService, date string, out io.Writer) error {
	day, err := calendar.Availability(ctx, operator, date)
	if err != nil {
		return err
	}

	color.New(color.FgCyan).Fprintf(out, "\n=== Availability for %s (%s) ===\n", day.Date, day.Weekday)
	if day.Holiday != "" {
		color.New(color.FgYellow).Fprintf(out, "Closed: %s\n", day.Holiday)
		return nil
	}
	if len(day.Slots) == 0 {
		color.New(color.FgYellow).Fprintln(out, "No slots offered on this day")
		return nil
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Slot", "Capacity", "Booked", "Available"})
	for _, slot := range day.Slots {
		available := strconv.Itoa(slot.Available)
		if slot.Available == 0 {
			available = color.RedString("full")
		}
		table.Append([]string{
			slot.Slot,
			strconv.Itoa(slot.Capacity),
			strconv.Itoa(slot.Booked),
			available,
		})
	}
	table.Render()
	return nil
}

func printAppointments(ctx context.Context, appointments *application.AppointmentService, date, status string, out io.Writer) error {
	list, err := appointments.List(ctx, application.ListAppointmentsParams{Principal: operator, Date: date, Status: status})
	if err != nil {
		return err
	}

	color.New(color.FgCyan).Fprintf(out, "\n=== Appointments on %s ===\n", date)
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Slot", "Candidate", "Status", "Identity", "Appointment"})
	for _, appointment := range list {
		table.Append([]string{
			appointment.Slot,
			appointment.CandidateID,
			string(appointment.Status),
			string(appointment.VerificationStatus),
			appointment.ID,
		})
	}
	table.Render()
	return nil
}

func printTemplates(ctx context.Context, calendar *application.CalendarService, out io.Writer) error {
	templates, err := calendar.ListTemplates(ctx, operator)
	if err != nil {
		return err
	}

	color.New(color.FgCyan).Fprintln(out, "\n=== Weekly templates ===")
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Weekday", "Slots"})
	for _, template := range templates {
		slots := make([]string, 0, len(template.Slots))
		for _, slot := range template.Slots {
			slots = append(slots, fmt.Sprintf("%s-%s x%d", slot.Start, slot.End, slot.Capacity))
		}
		table.Append([]string{template.Weekday.String(), strings.Join(slots, ", ")})
	}
	table.Render()
	return nil
}

func printHolidays(ctx context.Context, calendar *application.CalendarService, out io.Writer) error {
	holidays, err := calendar.ListHolidays(ctx, operator)
	if err != nil {
		return err
	}

	color.New(color.FgCyan).Fprintln(out, "\n=== Holidays ===")
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Date", "Name"})
	for _, holiday := range holidays {
		table.Append([]string{holiday.Date, holiday.Name})
	}
	table.Render()
	return nil
}

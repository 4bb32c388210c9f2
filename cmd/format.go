package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/sells-group/safewatch/internal/model"
)

func formatContacts(out io.Writer, list []model.EmergencyContact) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tPHONE\tRELATIONSHIP\tACTIVE\tPRIMARY")
	_, _ = fmt.Fprintln(w, "--\t----\t-----\t------------\t------\t-------")

	for _, c := range list {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID,
			truncate(c.Name, 30),
			c.Phone,
			c.Relationship,
			yesNo(c.IsActive),
			yesNo(c.IsPrimary),
		)
	}
	_ = w.Flush()
}

func formatZones(out io.Writer, zones []model.SafeZone) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tCENTER\tRADIUS_M\tACTIVE")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t--------\t------")

	for _, z := range zones {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.5f,%.5f\t%.0f\t%s\n",
			z.ID,
			truncate(z.Name, 30),
			z.Center.Lat, z.Center.Lng,
			z.RadiusMeters,
			yesNo(z.IsActive),
		)
	}
	_ = w.Flush()
}

func printSafety(out io.Writer, label string, s model.SafetyStatus) {
	if !s.WithinAnyZone {
		_, _ = fmt.Fprintf(out, "%s: outside all safe zones\n", label)
		return
	}
	names := make([]string, 0, len(s.ActiveZones))
	for _, z := range s.ActiveZones {
		names = append(names, z.Name)
	}
	_, _ = fmt.Fprintf(out, "%s: inside %s\n", label, strings.Join(names, ", "))
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

package diff

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"
)

const noneValue = "<none>"

// Printer renders a BlueprintDiff for humans.
type Printer struct {
	out io.Writer

	green  *color.Color
	red    *color.Color
	yellow *color.Color
}

// NewPrinter creates a Printer writing to out. Colors are off when noColor
// is set.
func NewPrinter(out io.Writer, noColor bool) *Printer {
	p := &Printer{
		out:    out,
		green:  color.New(color.FgGreen),
		red:    color.New(color.FgRed),
		yellow: color.New(color.FgYellow),
	}
	if noColor {
		p.green.DisableColor()
		p.red.DisableColor()
		p.yellow.DisableColor()
	} else {
		p.green.EnableColor()
		p.red.EnableColor()
		p.yellow.EnableColor()
	}
	return p
}

// Print writes every changed resource in path order. Unchanged resources
// are skipped.
func (p *Printer) Print(d *BlueprintDiff) error {
	changed := d.Changed()
	if len(changed) == 0 {
		_, err := fmt.Fprintln(p.out, "No differences found.")
		return err
	}

	for _, rd := range changed {
		if err := p.PrintResource(rd); err != nil {
			return err
		}
	}

	counts := d.Counts()
	_, err := fmt.Fprintf(p.out, "\n%d to create, %d to update, %d to rebuild, %d to delete.\n",
		counts[New], counts[Conflict], counts[RebuildRequired], counts[Deleted])
	return err
}

// PrintResource writes the header and attribute lines of one resource.
func (p *Printer) PrintResource(rd *ResourceDiff) error {
	var err error
	switch rd.Result {
	case New:
		_, err = p.green.Fprintf(p.out, "CREATING [%s]\n", rd.Path)
	case Deleted:
		_, err = p.red.Fprintf(p.out, "DELETING [%s]\n", rd.Path)
	case RebuildRequired:
		_, err = p.yellow.Fprintf(p.out, "REBUILDING [%s]\n", rd.Path)
		if err == nil {
			_, err = p.yellow.Fprintln(p.out, `REBUILD REQUIRED. See attributes marked with "!!"`)
		}
	case Conflict:
		_, err = p.yellow.Fprintf(p.out, "UPDATING [%s]\n", rd.Path)
	}
	if err != nil {
		return err
	}

	for _, ad := range rd.Attributes {
		if err := p.printAttribute(ad); err != nil {
			return err
		}
	}
	return nil
}

func (p *Printer) printAttribute(ad *AttributeDiff) error {
	var err error
	switch {
	case ad.Result == New:
		_, err = p.green.Fprintf(p.out, "++\t%s: %s => %s\n", ad.Name, noneValue, format(ad.FilteredSrcValue()))
	case ad.Result == Deleted:
		_, err = p.red.Fprintf(p.out, "--\t%s\n", ad.Name)
	case ad.RequiresRebuild():
		_, err = p.yellow.Fprintf(p.out, "!!\t%s: %s => %s\n", ad.Name, format(ad.FilteredDestValue()), format(ad.FilteredSrcValue()))
	case ad.Result == Conflict:
		_, err = p.yellow.Fprintf(p.out, "@@\t%s: %s => %s\n", ad.Name, sideValue(ad.DestAttribute != nil, ad.FilteredDestValue()), sideValue(ad.SrcAttribute != nil, ad.FilteredSrcValue()))
	default:
		_, err = fmt.Fprintf(p.out, "  \t%s: %s => %s\n", ad.Name, format(ad.FilteredDestValue()), format(ad.FilteredSrcValue()))
	}
	return err
}

// sideValue renders a value, or <none> when that side lacks the attribute.
func sideValue(present bool, v any) string {
	if !present {
		return noneValue
	}
	return format(v)
}

func format(v any) string {
	if v == nil {
		return "null"
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// Report is the serializable form of a BlueprintDiff. Secret and dynamic
// values are masked.
type Report struct {
	Result    Result           `json:"result" yaml:"result"`
	Resources []ResourceReport `json:"resources" yaml:"resources"`
}

// ResourceReport is one changed resource in a Report.
type ResourceReport struct {
	Path       string            `json:"path" yaml:"path"`
	Type       string            `json:"type" yaml:"type"`
	Result     Result            `json:"result" yaml:"result"`
	Attributes []AttributeReport `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// AttributeReport is one attribute difference in a Report.
type AttributeReport struct {
	Name            string `json:"name" yaml:"name"`
	Result          Result `json:"result" yaml:"result"`
	From            any    `json:"from,omitempty" yaml:"from,omitempty"`
	To              any    `json:"to,omitempty" yaml:"to,omitempty"`
	RequiresRebuild bool   `json:"requires_rebuild,omitempty" yaml:"requires_rebuild,omitempty"`
}

// Report builds the serializable form of d, listing changed resources only.
func (d *BlueprintDiff) Report() Report {
	r := Report{Result: d.Result, Resources: []ResourceReport{}}
	for _, rd := range d.Changed() {
		rr := ResourceReport{Path: rd.Path, Type: rd.Type(), Result: rd.Result}
		for _, ad := range rd.Attributes {
			ar := AttributeReport{Name: ad.Name, Result: ad.Result, RequiresRebuild: ad.RequiresRebuild()}
			if ad.DestAttribute != nil {
				ar.From = ad.FilteredDestValue()
			}
			if ad.SrcAttribute != nil {
				ar.To = ad.FilteredSrcValue()
			}
			rr.Attributes = append(rr.Attributes, ar)
		}
		r.Resources = append(r.Resources, rr)
	}
	return r
}

// WriteJSON writes the report of d as indented JSON.
func WriteJSON(w io.Writer, d *BlueprintDiff) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d.Report())
}

// WriteYAML writes the report of d as YAML.
func WriteYAML(w io.Writer, d *BlueprintDiff) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(d.Report()); err != nil {
		return err
	}
	return enc.Close()
}

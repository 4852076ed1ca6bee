package generation

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"github.com/ashureev/catalyze/internal/domain"
)

// deck is the hardware a fallback template is written against.
type deck struct {
	Flex      bool
	TipRack   string
	Pipette   string
	Mount     string
	Slots     [4]string
	MinVolume float64
	MaxVolume float64
}

var (
	ot2Deck = deck{
		TipRack:   "opentrons_96_tiprack_300ul",
		Pipette:   "p300_single_gen2",
		Mount:     "right",
		Slots:     [4]string{"1", "2", "3", "4"},
		MinVolume: 20,
		MaxVolume: 300,
	}
	flexDeck = deck{
		Flex:      true,
		TipRack:   "opentrons_flex_96_tiprack_1000ul",
		Pipette:   "flex_1channel_1000",
		Mount:     "left",
		Slots:     [4]string{"D1", "D2", "D3", "C1"},
		MinVolume: 5,
		MaxVolume: 1000,
	}
)

func deckFor(p domain.Platform) deck {
	if p == domain.PlatformFlex {
		return flexDeck
	}
	return ot2Deck
}

var protocolTemplates = template.Must(template.New("protocols").Parse(`
{{- define "header" -}}
# Generated Opentrons Protocol (Attempt {{.Attempt}})
# Instructions: {{.Instructions}}

from opentrons import protocol_api

metadata = {
    'protocolName': '{{.Name}}',
    'author': 'Catalyze',
    'description': '{{.Description}}',
{{- if not .Deck.Flex}}
    'apiLevel': '2.13',
{{- end}}
}
{{- if .Deck.Flex}}

requirements = {'robotType': 'Flex', 'apiLevel': '2.15'}
{{- end}}


def run(protocol: protocol_api.ProtocolContext):
    tip_rack = protocol.load_labware('{{.Deck.TipRack}}', '{{index .Deck.Slots 0}}')
{{- end}}

{{- define "pipette"}}
    pipette = protocol.load_instrument('{{.Deck.Pipette}}', '{{.Deck.Mount}}', tip_racks=[tip_rack])
{{- end}}

{{- define "transfer" -}}
{{template "header" .}}
    source_plate = protocol.load_labware('corning_96_wellplate_360ul_flat', '{{index .Deck.Slots 1}}')
    dest_plate = protocol.load_labware('corning_96_wellplate_360ul_flat', '{{index .Deck.Slots 2}}')
{{- template "pipette" .}}

    pipette.pick_up_tip()
    pipette.aspirate({{.Volume}}, source_plate['{{.Source}}'])
    pipette.dispense({{.Volume}}, dest_plate['{{.Dest}}'])
    pipette.drop_tip()
{{end}}

{{- define "pcr" -}}
{{template "header" .}}
    pcr_plate = protocol.load_labware('nest_96_wellplate_100ul_pcr_full_skirt', '{{index .Deck.Slots 1}}')
    reagents = protocol.load_labware('nest_12_reservoir_15ml', '{{index .Deck.Slots 2}}')
{{- template "pipette" .}}

    for well in pcr_plate.wells()[:8]:
        pipette.transfer(20, reagents['A1'], well, new_tip='always')
        pipette.transfer(5, reagents['A2'], well, new_tip='always')
        pipette.pick_up_tip()
        pipette.mix(3, 20, well)
        pipette.drop_tip()
{{end}}

{{- define "dilution" -}}
{{template "header" .}}
    source_plate = protocol.load_labware('corning_96_wellplate_360ul_flat', '{{index .Deck.Slots 1}}')
    dest_plate = protocol.load_labware('corning_96_wellplate_360ul_flat', '{{index .Deck.Slots 2}}')
    diluent = protocol.load_labware('nest_12_reservoir_15ml', '{{index .Deck.Slots 3}}')
{{- template "pipette" .}}

    for i in range(8):
        well = f'A{i + 1}'
        pipette.transfer(90, diluent['A1'], dest_plate[well], new_tip='always')
        pipette.pick_up_tip()
        pipette.aspirate(30, source_plate[well])
        pipette.dispense(30, dest_plate[well])
        pipette.mix(3, 50, dest_plate[well])
        pipette.drop_tip()
{{end}}

{{- define "general" -}}
{{template "header" .}}
    plate = protocol.load_labware('corning_96_wellplate_360ul_flat', '{{index .Deck.Slots 1}}')
{{- template "pipette" .}}

    pipette.pick_up_tip()
    pipette.aspirate({{.Volume}}, plate['A1'])
    pipette.dispense({{.Volume}}, plate['A2'])
    pipette.drop_tip()
{{end}}
`))

type templateData struct {
	Attempt      int
	Instructions string
	Name         string
	Description  string
	Deck         deck
	Volume       string
	Source       string
	Dest         string
}

var (
	volumePattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:ul|µl|μl|microliters?)\b`)
	wellPattern   = regexp.MustCompile(`\b([A-H](?:1[0-2]|[1-9]))\b`)
)

// TemplateProtocol renders a fallback protocol for instructions. The
// template kind is chosen by keyword (pcr, transfer, dilution, general) and
// every placement uses a slot valid for platform.
func TemplateProtocol(instructions string, platform domain.Platform, attempt int) (string, error) {
	core := strings.Join(strings.Fields(coreInstruction(instructions)), " ")
	lower := strings.ToLower(core)
	d := deckFor(platform)

	data := templateData{
		Attempt:      attempt + 1,
		Instructions: core,
		Deck:         d,
		Volume:       formatVolume(templateVolume(core, d)),
		Source:       "A1",
		Dest:         "B1",
	}
	if wells := wellPattern.FindAllString(core, 2); len(wells) == 2 {
		data.Source, data.Dest = wells[0], wells[1]
	}

	var kind string
	switch {
	case strings.Contains(lower, "pcr"):
		kind, data.Name, data.Description = "pcr", "PCR Setup Protocol", "Auto-generated PCR setup protocol"
	case strings.Contains(lower, "transfer") || strings.Contains(lower, "pipette"):
		kind, data.Name, data.Description = "transfer", "Liquid Transfer Protocol", "Auto-generated liquid transfer protocol"
	case strings.Contains(lower, "dilution"):
		kind, data.Name, data.Description = "dilution", "Dilution Protocol", "Auto-generated dilution protocol"
	default:
		kind, data.Name, data.Description = "general", "Custom Protocol", "Auto-generated protocol based on instructions"
	}

	var buf bytes.Buffer
	if err := protocolTemplates.ExecuteTemplate(&buf, kind, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", kind, err)
	}
	return buf.String(), nil
}

func templateVolume(instructions string, d deck) float64 {
	m := volumePattern.FindStringSubmatch(instructions)
	if m == nil {
		return 100
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v < d.MinVolume || v > d.MaxVolume {
		return 100
	}
	return v
}

func formatVolume(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

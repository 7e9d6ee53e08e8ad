package same

// eventNames maps the three-letter SAME event codes from 47 CFR 11.31 to
// display names. The table is not exhaustive; unknown codes pass through
// untranslated.
var eventNames = map[string]string{
	"EAN": "Emergency Action Notification",
	"NIC": "National Information Center",
	"NPT": "National Periodic Test",
	"RMT": "Required Monthly Test",
	"RWT": "Required Weekly Test",
	"ADR": "Administrative Message",
	"AVA": "Avalanche Watch",
	"AVW": "Avalanche Warning",
	"BZW": "Blizzard Warning",
	"CAE": "Child Abduction Emergency",
	"CDW": "Civil Danger Warning",
	"CEM": "Civil Emergency Message",
	"CFA": "Coastal Flood Watch",
	"CFW": "Coastal Flood Warning",
	"DMO": "Practice/Demo Warning",
	"DSW": "Dust Storm Warning",
	"EQW": "Earthquake Warning",
	"EVI": "Evacuation Immediate",
	"EWW": "Extreme Wind Warning",
	"FFA": "Flash Flood Watch",
	"FFS": "Flash Flood Statement",
	"FFW": "Flash Flood Warning",
	"FLA": "Flood Watch",
	"FLS": "Flood Statement",
	"FLW": "Flood Warning",
	"FRW": "Fire Warning",
	"FSW": "Flash Freeze Warning",
	"FZW": "Freeze Warning",
	"HLS": "Hurricane Local Statement",
	"HMW": "Hazardous Materials Warning",
	"HUA": "Hurricane Watch",
	"HUW": "Hurricane Warning",
	"HWA": "High Wind Watch",
	"HWW": "High Wind Warning",
	"LAE": "Local Area Emergency",
	"LEW": "Law Enforcement Warning",
	"NUW": "Nuclear Power Plant Warning",
	"RHW": "Radiological Hazard Warning",
	"SMW": "Special Marine Warning",
	"SPS": "Special Weather Statement",
	"SPW": "Shelter In Place Warning",
	"SSA": "Storm Surge Watch",
	"SSW": "Storm Surge Warning",
	"SVA": "Severe Thunderstorm Watch",
	"SVR": "Severe Thunderstorm Warning",
	"SVS": "Severe Weather Statement",
	"TOA": "Tornado Watch",
	"TOE": "911 Telephone Outage Emergency",
	"TOR": "Tornado Warning",
	"TRA": "Tropical Storm Watch",
	"TRW": "Tropical Storm Warning",
	"TSA": "Tsunami Watch",
	"TSW": "Tsunami Warning",
	"VOW": "Volcano Warning",
	"WSA": "Winter Storm Watch",
	"WSW": "Winter Storm Warning",
}

// KnownEvent reports whether code is a recognized SAME event code.
func KnownEvent(code string) bool {
	_, ok := eventNames[code]
	return ok
}

// ToneKind selects which attention tone follows the header bursts.
type ToneKind int

const (
	// ToneEBS is the two-tone 853 Hz + 960 Hz attention signal.
	ToneEBS ToneKind = iota
	// ToneNWS is the single 1050 Hz tone used on NOAA Weather Radio.
	ToneNWS
)

// TonePolicy decides the attention tone for an alert. Messages originated
// by the weather service get the single 1050 Hz NWR tone; everything else
// gets the EBS two-tone pair. Deployments can override via configuration.
func TonePolicy(originator, event string) ToneKind {
	if originator == "WXR" {
		return ToneNWS
	}
	return ToneEBS
}

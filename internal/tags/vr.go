package tags

var vrDescriptions = map[string]string{
	"AE": "Application Entity - application entity title (max 16 chars)",
	"AS": "Age String - age (nnnD, nnnW, nnnM, nnnY)",
	"AT": "Attribute Tag - tag reference (4 bytes)",
	"CS": "Code String - code (uppercase, space, underscore)",
	"DA": "Date - date (YYYYMMDD)",
	"DS": "Decimal String - decimal number as text",
	"DT": "Date Time - date and time (YYYYMMDDHHMMSS.FFFFFF)",
	"FL": "Floating Point Single - 32-bit float",
	"FD": "Floating Point Double - 64-bit float",
	"IS": "Integer String - integer as text",
	"LO": "Long String - text (max 64 chars)",
	"LT": "Long Text - text (max 10240 chars)",
	"OB": "Other Byte - 8-bit binary data",
	"OD": "Other Double - 64-bit float data",
	"OF": "Other Float - 32-bit float data",
	"OL": "Other Long - 32-bit binary data",
	"OV": "Other Very Long - 64-bit binary data",
	"OW": "Other Word - 16-bit binary data",
	"PN": "Person Name - name (Last^First^Middle^Prefix^Suffix)",
	"SH": "Short String - text (max 16 chars)",
	"SL": "Signed Long - signed 32-bit integer",
	"SQ": "Sequence - nested data sets",
	"SS": "Signed Short - signed 16-bit integer",
	"ST": "Short Text - text (max 1024 chars)",
	"SV": "Signed Very Long - signed 64-bit integer",
	"TM": "Time - time (HHMMSS.FFFFFF)",
	"UC": "Unlimited Characters - unbounded text",
	"UI": "Unique Identifier - UID",
	"UL": "Unsigned Long - unsigned 32-bit integer",
	"UN": "Unknown - binary data",
	"UR": "Universal Resource - URI or URL",
	"US": "Unsigned Short - unsigned 16-bit integer",
	"UT": "Unlimited Text - unbounded text",
	"UV": "Unsigned Very Long - unsigned 64-bit integer",
}

// DescribeVR returns a human description of a value representation code.
func DescribeVR(vr string) string {
	if d, ok := vrDescriptions[vr]; ok {
		return d
	}
	return "Unknown VR"
}

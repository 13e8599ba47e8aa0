package caldav

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// Multistatus response model. Field tags carry only local names, so the
// same structs accept d:/D:/c:/C:/cal: prefixed and prefix-free variants
// of the DAV and CalDAV namespaces.

type multistatus struct {
	XMLName   xml.Name   `xml:"multistatus"`
	Responses []response `xml:"response"`
}

type response struct {
	Href      string     `xml:"href"`
	Propstats []propstat `xml:"propstat"`
}

type propstat struct {
	Status string `xml:"status"`
	Prop   prop   `xml:"prop"`
}

type prop struct {
	CurrentUserPrincipal hrefProp     `xml:"current-user-principal"`
	CalendarHomeSet      hrefProp     `xml:"calendar-home-set"`
	DisplayName          string       `xml:"displayname"`
	ResourceType         resourceType `xml:"resourcetype"`
	CalendarData         string       `xml:"calendar-data"`
	ETag                 string       `xml:"getetag"`
}

type hrefProp struct {
	Href string `xml:"href"`
}

type resourceType struct {
	Calendar   *struct{} `xml:"calendar"`
	Collection *struct{} `xml:"collection"`
}

func parseMultistatus(body []byte) (*multistatus, error) {
	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, fmt.Errorf("parse multistatus: %w", err)
	}
	return &ms, nil
}

// firstProp walks every propstat and returns the first non-empty value
// produced by extract.
func (ms *multistatus) firstProp(extract func(prop) string) string {
	for _, r := range ms.Responses {
		for _, ps := range r.Propstats {
			if v := extract(ps.Prop); v != "" {
				return v
			}
		}
	}
	return ""
}

// Request bodies. Prefixes here are what we send; servers answer with
// whatever prefixes they like and the response structs above accept all
// of them.

const propfindCurrentUserPrincipal = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:">
  <d:prop><d:current-user-principal/></d:prop>
</d:propfind>`

const propfindCalendarHomeSet = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:prop><c:calendar-home-set/></d:prop>
</d:propfind>`

const propfindCalendarList = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:">
  <d:prop><d:resourcetype/><d:displayname/></d:prop>
</d:propfind>`

const propfindResourceList = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:">
  <d:prop><d:getetag/></d:prop>
</d:propfind>`

func calendarQueryBody(startUTC, endUTC string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<c:calendar-query xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:prop><d:getetag/><c:calendar-data/></d:prop>
  <c:filter>
    <c:comp-filter name="VCALENDAR">
      <c:comp-filter name="VEVENT">
        <c:time-range start="%s" end="%s"/>
      </c:comp-filter>
    </c:comp-filter>
  </c:filter>
</c:calendar-query>`, startUTC, endUTC)
}

func calendarMultigetBody(hrefs []string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>
<c:calendar-multiget xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:prop><d:getetag/><c:calendar-data/></d:prop>
`)
	for _, h := range hrefs {
		b.WriteString("  <d:href>")
		_ = xml.EscapeText(&b, []byte(h))
		b.WriteString("</d:href>\n")
	}
	b.WriteString("</c:calendar-multiget>")
	return b.String()
}

// entityLineBreaks maps the XML entity spellings of CR and LF that some
// servers leave in embedded calendar data even after XML decoding.
var entityLineBreaks = strings.NewReplacer(
	"&#xD;&#xA;", "\r\n",
	"&#x0D;&#x0A;", "\r\n",
	"&#13;&#10;", "\r\n",
	"&#xD;", "\r",
	"&#x0D;", "\r",
	"&#13;", "\r",
	"&#xA;", "\n",
	"&#x0A;", "\n",
	"&#10;", "\n",
)

// decodeCalendarData normalizes embedded calendar data before it is
// handed to the iCalendar decoder.
func decodeCalendarData(s string) string {
	return entityLineBreaks.Replace(s)
}

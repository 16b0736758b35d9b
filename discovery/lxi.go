package discovery

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// LXIInterface is one network interface advertised by an LXI device's
// identification document.
type LXIInterface struct {
	Type       string
	Addresses  []string
	MACAddress string
}

// LXIDevice is the parsed LXI identification document, or a
// best-effort stand-in built from an HTML <title> tag when the device
// doesn't serve one. Grounded on LXIDevice/_parse_lxi_xml/_parse_lxi_html
// in original_source/src/msl/equipment/utils.py.
type LXIDevice struct {
	Manufacturer string
	Model        string
	Serial       string
	Description  string
	Firmware     string
	Interfaces   []LXIInterface
}

var titlePattern = regexp.MustCompile(`(?is)<title>(.+?)</title>`)

// FetchLXIIdentification retrieves and parses an LXI device's
// identification document, following the reference client's fallback
// chain: try the standard /lxi/identification URL first, and if that
// 404s (or the webserver redirects every invalid URL to its homepage
// instead of actually 404ing, making it look like a malformed XML
// response) fall back to parsing the webserver's homepage.
func FetchLXIIdentification(ctx context.Context, host string, port int, timeout time.Duration) (LXIDevice, error) {
	scheme := "http"
	if port == 443 {
		scheme = "https"
	}
	portSuffix := ""
	if port != 80 && port != 443 {
		portSuffix = fmt.Sprintf(":%d", port)
	}
	base := fmt.Sprintf("%s://%s%s", scheme, host, portSuffix)

	client := &http.Client{Timeout: timeout}

	body, status, err := httpGet(ctx, client, base+"/lxi/identification")
	if err != nil {
		return LXIDevice{}, err
	}
	if status == http.StatusNotFound {
		homeBody, _, homeErr := httpGet(ctx, client, base)
		if homeErr != nil {
			return LXIDevice{}, homeErr
		}
		return parseLXIHTML(homeBody), nil
	}

	device, ok := parseLXIXML(body)
	if ok {
		return device, nil
	}
	return parseLXIHTML(body), nil
}

func httpGet(ctx context.Context, client *http.Client, url string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, err
	}
	return string(data), resp.StatusCode, nil
}

func parseLXIHTML(content string) LXIDevice {
	m := titlePattern.FindStringSubmatch(content)
	if m == nil {
		return LXIDevice{}
	}
	return LXIDevice{Description: strings.TrimSpace(m[1])}
}

// xmlElement is a generic XML tree used to walk the identification
// document while ignoring its namespace prefix, the way the reference
// client's str.endswith(tag) comparisons do.
type xmlElement struct {
	XMLName  xml.Name
	Attrs    []xml.Attr   `xml:",any,attr"`
	Content  string       `xml:",chardata"`
	Children []xmlElement `xml:",any"`
}

func (e xmlElement) attr(local string) string {
	for _, a := range e.Attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// parseLXIXML reports ok=false if content isn't a well-formed XML
// document rooted at an (possibly namespaced) LXIDevice element, in
// which case the caller should fall back to HTML title parsing.
func parseLXIXML(content string) (LXIDevice, bool) {
	var root xmlElement
	if err := xml.Unmarshal([]byte(content), &root); err != nil {
		return LXIDevice{}, false
	}
	if !strings.HasSuffix(root.XMLName.Local, "LXIDevice") {
		return LXIDevice{}, false
	}

	var device LXIDevice
	for _, e := range root.Children {
		local := e.XMLName.Local
		text := strings.TrimSpace(e.Content)
		switch {
		case strings.HasSuffix(local, "Manufacturer"):
			device.Manufacturer = text
		case strings.HasSuffix(local, "Model"):
			device.Model = text
		case strings.HasSuffix(local, "SerialNumber"):
			device.Serial = text
		case strings.HasSuffix(local, "ManufacturerDescription"):
			device.Description = text
		case strings.HasSuffix(local, "FirmwareRevision"):
			device.Firmware = text
		case strings.HasSuffix(local, "Interface"):
			device.Interfaces = append(device.Interfaces, parseLXIInterface(e))
		}
	}
	return device, true
}

func parseLXIInterface(e xmlElement) LXIInterface {
	iface := LXIInterface{Type: e.attr("InterfaceType")}
	for _, c := range e.Children {
		text := strings.TrimSpace(c.Content)
		if text == "" {
			continue
		}
		switch {
		case strings.HasSuffix(c.XMLName.Local, "InstrumentAddressString"):
			iface.Addresses = append(iface.Addresses, text)
		case strings.HasSuffix(c.XMLName.Local, "MACAddress"):
			iface.MACAddress = text
		}
	}
	return iface
}

package discovery

import (
	"fmt"
	"strconv"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeServerTXT creates TXT records for server discovery.
func EncodeServerTXT(info *ServerInfo) TXTRecordMap {
	txt := make(TXTRecordMap)

	// Required fields
	txt[TXTKeyServerID] = info.ServerID
	txt[TXTKeyServerName] = info.ServerName
	txt[TXTKeyDeviceCount] = strconv.Itoa(info.DeviceCount)

	// Optional fields
	if len(info.Capabilities) > 0 {
		txt[TXTKeyCapabilities] = strings.Join(info.Capabilities, ",")
	}
	if info.Degraded {
		txt[TXTKeyDegraded] = "1"
	}
	if info.Firmware != "" {
		txt[TXTKeyFirmware] = info.Firmware
	}

	return txt
}

// DecodeServerTXT parses TXT records from server discovery.
func DecodeServerTXT(txt TXTRecordMap) (*ServerInfo, error) {
	info := &ServerInfo{}

	// Parse server ID (required)
	var ok bool
	info.ServerID, ok = txt[TXTKeyServerID]
	if !ok || info.ServerID == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyServerID)
	}

	// Parse server name (required)
	info.ServerName, ok = txt[TXTKeyServerName]
	if !ok || info.ServerName == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyServerName)
	}

	// Parse device count (required)
	dcStr, ok := txt[TXTKeyDeviceCount]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyDeviceCount)
	}
	dc, err := strconv.Atoi(dcStr)
	if err != nil || dc < 0 {
		return nil, fmt.Errorf("%w: invalid device count %q", ErrInvalidTXTRecord, dcStr)
	}
	info.DeviceCount = dc

	// Optional fields
	if catStr, ok := txt[TXTKeyCapabilities]; ok && catStr != "" {
		for _, c := range strings.Split(catStr, ",") {
			c = strings.TrimSpace(c)
			if c != "" {
				info.Capabilities = append(info.Capabilities, c)
			}
		}
	}
	info.Degraded = txt[TXTKeyDegraded] == "1"
	info.Firmware = txt[TXTKeyFirmware]

	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to a slice of "key=value" strings.
// This format is commonly used by mDNS libraries.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		parts := strings.SplitN(s, "=", 2)
		if len(parts) == 2 {
			txt[parts[0]] = parts[1]
		} else if len(parts) == 1 && parts[0] != "" {
			// Key without value (boolean flag)
			txt[parts[0]] = ""
		}
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInstanceNameTooLong)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}

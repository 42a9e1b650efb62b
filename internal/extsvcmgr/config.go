package extsvcmgr

import "encoding/json"

// encodeConfig/decodeConfig serialise a driver's effective config map to the
// plaintext blob that crypto.Service then seals before it goes to the store
// (ExternalService.EncryptedConfig, §7).
func encodeConfig(config map[string]any) ([]byte, error) {
	return json.Marshal(config)
}

func decodeConfig(blob []byte) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(blob, &out); err != nil {
		return nil, err
	}
	return out, nil
}

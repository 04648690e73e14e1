package inventory

import "strings"

const ipfsGateway = "https://ipfs.io/ipfs/"

// ConvertIPFSToGatewayURL rewrites ipfs://<path> to the public gateway. Other URLs are
// returned unchanged.
func ConvertIPFSToGatewayURL(url string) string {
	if rest, ok := strings.CutPrefix(url, "ipfs://"); ok {
		return ipfsGateway + rest
	}
	return url
}

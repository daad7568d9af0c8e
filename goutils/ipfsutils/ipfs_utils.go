package ipfsutils

import (
	"context"
	"net/http"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	ma "github.com/multiformats/go-multiaddr"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"metapin/goutils/settings"
)

// IpfsClient pins content on a self-hosted IPFS node, in addition to the
// remote pinning service. Optional capability, only wired when a node URL is
// configured.
type IpfsClient struct {
	ipfsClient            *shell.Shell
	ipfsClientRateLimiter *rate.Limiter
}

// InitClient initializes the IPFS client against the configured node.
func InitClient(cfg *settings.IpfsNode) *IpfsClient {
	url := ParseMultiAddrUrl(cfg.URL)

	poolSize := cfg.PoolSize
	if poolSize == 0 {
		poolSize = 10
	}

	transport := http.Transport{
		MaxIdleConns:        poolSize,
		MaxConnsPerHost:     poolSize,
		MaxIdleConnsPerHost: poolSize,
		IdleConnTimeout:     0,
		DisableCompression:  true,
	}

	timeoutSecs := cfg.Timeout
	if timeoutSecs == 0 {
		timeoutSecs = 30
	}

	ipfsHTTPClient := http.Client{
		Timeout:   time.Duration(timeoutSecs) * time.Second,
		Transport: &transport,
	}

	log.Debug("initializing the IPFS client with IPFS daemon URL:", url)

	client := new(IpfsClient)
	client.ipfsClient = shell.NewShellWithClient(url, &ipfsHTTPClient)
	client.ipfsClient.SetTimeout(time.Duration(timeoutSecs) * time.Second)

	tps := rate.Limit(10) // 10 TPS
	burst := 10

	if cfg.RateLimiter != nil {
		burst = cfg.RateLimiter.Burst

		if cfg.RateLimiter.RequestsPerSec == -1 {
			tps = rate.Inf
			burst = 0
		} else {
			tps = rate.Limit(cfg.RateLimiter.RequestsPerSec)
		}
	}

	log.Infof("rate limit configured for IPFS client at %v TPS with a burst of %d", tps, burst)
	client.ipfsClientRateLimiter = rate.NewLimiter(tps, burst)

	return client
}

func ParseMultiAddrUrl(url string) string {
	if _, err := ma.NewMultiaddr(url); err == nil {
		url = strings.Split(url, "/")[2] + ":" + strings.Split(url, "/")[4]
	}

	return url
}

// PinCid pins the content on the local node so it stays retrievable even if
// the remote pinning service drops it.
func (client *IpfsClient) PinCid(ctx context.Context, cid string) error {
	err := client.ipfsClientRateLimiter.Wait(ctx)
	if err != nil {
		log.Errorf("IPFSClient rate limiter wait timeout with error %+v", err)

		return err
	}

	err = client.ipfsClient.Pin(cid)
	if err != nil {
		log.Warnf("failed to pin CID %s on local ipfs node due to error %+v", cid, err)

		return err
	}

	log.Debugf("pinned CID %s on local ipfs node", cid)

	return nil
}

// UnPinCids unpins retired content from the local node.
func (client *IpfsClient) UnPinCids(ctx context.Context, cids []string) error {
	for _, cid := range cids {
		err := client.ipfsClientRateLimiter.Wait(ctx)
		if err != nil {
			log.Warnf("IPFSClient rate limiter wait timeout with error %+v", err)

			continue
		}

		err = client.ipfsClient.Unpin(cid)
		if err != nil {
			// CID has already been unpinned.
			if err.Error() == "pin/rm: not pinned or pinned indirectly" || err.Error() == "pin/rm: pin is not part of the pinset" {
				log.Debugf("CID %s could not be unpinned as it was not pinned on the local node", cid)

				continue
			}

			log.Warnf("failed to unpin CID %s from local ipfs node due to error %+v", cid, err)

			return err
		}

		log.Debugf("unpinned CID %s from local ipfs node", cid)
	}

	return nil
}

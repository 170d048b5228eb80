package scanner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	blelib "github.com/go-ble/ble"
	"github.com/srg/medlink/internal/device"
	goble "github.com/srg/medlink/internal/device/go-ble"
	"github.com/srg/medlink/internal/devicefactory"
	"github.com/srg/medlink/internal/testutils"
	"github.com/srg/medlink/scanner"
	"github.com/stretchr/testify/suite"
)

// replayScanner delivers a fixed list of advertisements and then waits for the scan to end.
type replayScanner struct {
	ads      []blelib.Advertisement
	allowDup bool
	err      error
}

func (r *replayScanner) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	r.allowDup = allowDup
	if r.err != nil {
		return r.err
	}
	for _, adv := range r.ads {
		handler(goble.NewBLEAdvertisement(adv))
	}
	<-ctx.Done()
	return ctx.Err()
}

type ScannerTestSuite struct {
	suite.Suite
	helper   *testutils.TestHelper
	replay   *replayScanner
	original func() (device.Scanner, error)
}

func (s *ScannerTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.replay = &replayScanner{}
	s.original = devicefactory.NewScanner
	devicefactory.NewScanner = func() (device.Scanner, error) { return s.replay, nil }
}

func (s *ScannerTestSuite) TearDownTest() {
	devicefactory.NewScanner = s.original
}

func (s *ScannerTestSuite) scan(opts *scanner.ScanOptions) []scanner.Peripheral {
	var phases []string
	devs, err := scanner.NewScanner(s.helper.Logger).Scan(context.Background(), opts, func(phase string) {
		phases = append(phases, phase)
	})
	s.Require().NoError(err, "an expired scan window MUST NOT be reported as an error")
	s.Equal([]string{"Scanning", "Processing results"}, phases)
	return devs
}

func (s *ScannerTestSuite) TestScan_DeduplicatesAndSorts() {
	// GOAL: Verify repeated advertisements collapse to one entry per address, strongest signal first
	//
	// TEST SCENARIO: three devices, one advertising twice → three results sorted by RSSI, latest RSSI kept

	s.replay.ads = []blelib.Advertisement{
		testutils.CreateMockAdvertisement("BP Monitor", "AA:BB:CC:DD:EE:FF", -70).WithServices("FFF0").Build(),
		testutils.CreateMockAdvertisement("Scale", "11:22:33:44:55:66", -60).Build(),
		testutils.CreateMockAdvertisement("Far", "99:88:77:66:55:44", -90).Build(),
		testutils.CreateMockAdvertisement("", "AA:BB:CC:DD:EE:FF", -40).Build(),
	}

	devs := s.scan(&scanner.ScanOptions{Duration: 20 * time.Millisecond, AllowDuplicates: true})

	s.Require().Len(devs, 3, "each address MUST appear once")
	s.Equal("aa:bb:cc:dd:ee:ff", devs[0].Address)
	s.Equal(-40, devs[0].RSSI, "the latest advertisement MUST refresh the signal")
	s.Equal("BP Monitor", devs[0].Name, "a nameless advertisement MUST NOT erase a known name")
	s.Equal([]string{"fff0"}, devs[0].Services)
	s.Equal("11:22:33:44:55:66", devs[1].Address)
	s.Equal("99:88:77:66:55:44", devs[2].Address)
	s.True(s.replay.allowDup)
}

func (s *ScannerTestSuite) TestScan_Filters() {
	s.replay.ads = []blelib.Advertisement{
		testutils.CreateMockAdvertisement("BP Monitor", "AA:BB:CC:DD:EE:FF", -70).WithServices("FFF0").Build(),
		testutils.CreateMockAdvertisement("bp-cuff", "11:22:33:44:55:66", -60).Build(),
		testutils.CreateMockAdvertisement("Scale", "99:88:77:66:55:44", -50).WithServices("FFF0").Build(),
	}

	s.Run("name", func() {
		devs := s.scan(&scanner.ScanOptions{Duration: 20 * time.Millisecond, NameFilter: "BP"})
		s.Require().Len(devs, 2)
		s.Equal("bp-cuff", devs[0].Name)
		s.Equal("BP Monitor", devs[1].Name)
	})

	s.Run("service", func() {
		opts := &scanner.ScanOptions{Duration: 20 * time.Millisecond, ServiceUUIDs: []string{"0000FFF0-0000-1000-8000-00805F9B34FB"}}
		devs := s.scan(opts)
		s.Require().Len(devs, 2)
		s.Equal("Scale", devs[0].Name)
		s.Equal([]string{"0000FFF0-0000-1000-8000-00805F9B34FB"}, opts.ServiceUUIDs, "caller options MUST NOT be modified")
	})
}

func (s *ScannerTestSuite) TestScan_Errors() {
	_, err := scanner.NewScanner(s.helper.Logger).Scan(context.Background(), &scanner.ScanOptions{ServiceUUIDs: []string{"xyz"}}, nil)
	s.ErrorContains(err, "invalid service filter")

	s.replay.err = device.ErrBluetoothOff
	_, err = scanner.NewScanner(s.helper.Logger).Scan(context.Background(), &scanner.ScanOptions{Duration: time.Second}, nil)
	s.ErrorIs(err, device.ErrBluetoothOff)

	devicefactory.NewScanner = func() (device.Scanner, error) { return nil, errors.New("no adapter") }
	_, err = scanner.NewScanner(s.helper.Logger).Scan(context.Background(), nil, nil)
	s.ErrorContains(err, "failed to create BLE scanner")
}

func (s *ScannerTestSuite) TestScan_Cancelled() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := scanner.NewScanner(s.helper.Logger).Scan(ctx, &scanner.ScanOptions{Duration: time.Second}, nil)

	s.ErrorIs(err, context.Canceled, "an interrupted scan MUST report cancellation")
}

func TestScannerTestSuite(t *testing.T) {
	suite.Run(t, new(ScannerTestSuite))
}

/*
Package collect holds the event sources of psfmonitor.

Each collector implements monitor.Collector:

  - LiveCollector reads the PSF trace fixup provider from a real-time
    session and adds every pid it sees to the shared allow-list.
  - KernelCollector reads the NT Kernel Logger (process, image, file, disk
    and registry groups), renders the fixed per-event layouts and emits
    registry control blocks for handle name resolution.
  - LogTailer follows the Application or System event log.

The platform parts live behind small source interfaces (KernelSource,
LiveSource, eventlog.Reader) so decoding is testable on any OS. Outside
Windows the default sources return ErrUnsupported.
*/
package collect

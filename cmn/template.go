package cmn

// DefaultTemplate is written to `./collector.properties` when the CLI
// is invoked without a configuration path. It documents a
// representative subset of the keys the configuration port recognizes.
const DefaultTemplate = `# CollecTor configuration template.
# Fill in the paths and module sections you need, then re-run with
# this file as the single command-line argument.

InstanceBaseUrl = https://collector.example.org

OutPath = ./out
RecentPath = ./out/recent
ArchivePath = ./out/archive
IndexPath = ./out/index
StatsPath = ./stats
SyncPath = ./sync
HtdocsPath = ./htdocs
IndexedPath = ./out

ShutdownGraceWaitMinutes = 10
RunOnce = false

ExitlistActivated = false
ExitlistOffsetMinutes = 0
ExitlistPeriodMinutes = 60
ExitlistSources = Remote
ExitlistUrl = https://exitlist.example.org/exit-addresses

BridgedescsActivated = false
BridgedescsOffsetMinutes = 5
BridgedescsPeriodMinutes = 60
BridgedescsSources = Local
BridgeAuthorityUrl = https://bridge-authority.example.org/bridge-descriptors
ReplaceIpAddressesWithHashes = true
BridgeDescriptorMappingsLimit = inf

RelaydescsActivated = false
RelaydescsOffsetMinutes = 0
RelaydescsPeriodMinutes = 60
RelaydescsSources = Remote,Sync
RelaydescsUrl = https://directory-authority.example.org/consensus
RelaydescsBandwidthUrls =
RelaydescsSyncOrigins =

OnionperfActivated = false
OnionperfOffsetMinutes = 15
OnionperfPeriodMinutes = 360
OnionperfSources = Remote
OnionPerfHosts =

SnowflakeActivated = false
SnowflakeOffsetMinutes = 20
SnowflakePeriodMinutes = 1440
SnowflakeSources = Remote
SnowflakeStatsUrl = https://snowflake-broker.example.org/metrics

BridgedbmetricsActivated = false
BridgedbmetricsOffsetMinutes = 25
BridgedbmetricsPeriodMinutes = 1440
BridgedbmetricsSources = Remote
BridgedbMetricsUrl = https://bridges.example.org/metrics

BridgepoolsActivated = false
BridgepoolsOffsetMinutes = 30
BridgepoolsPeriodMinutes = 1440
BridgepoolsSources = Local
BridgepoolsLocalOrigin = ./bridge-pool-assignments-in

WebstatsActivated = false
WebstatsOffsetMinutes = 10
WebstatsPeriodMinutes = 1440
WebstatsLimits = true
WebstatsHosts = collector.example.org
WebstatsUrl_collector.example.org = https://collector.example.org/webstats-access.log

IndexerActivated = true
IndexerOffsetMinutes = 0
IndexerPeriodMinutes = 60

FinalizerActivated = true
FinalizerOffsetMinutes = 1
FinalizerPeriodMinutes = 15
DiskSpaceCriticalBytes = 209715200
`
